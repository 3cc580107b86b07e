package handlers

import (
	"net/http"

	"github.com/bezaspace/rak4/pkg/gateway/apierror"
	"github.com/bezaspace/rak4/pkg/gateway/mw"
)

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apiErr, status := apierror.FromError(err, reqID)
	apierror.Write(w, status, apiErr)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, apiErr *apierror.Error) {
	if apiErr.RequestID == "" {
		apiErr.RequestID, _ = mw.RequestIDFrom(r.Context())
	}
	apierror.Write(w, status, apiErr)
}

func requestIDFromContext(r *http.Request) string {
	reqID, _ := mw.RequestIDFrom(r.Context())
	return reqID
}
