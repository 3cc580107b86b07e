package handlers

import (
	"net/http"

	"github.com/bezaspace/rak4/pkg/gateway/apierror"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeErrorStatus(w, r, http.StatusNotFound, &apierror.Error{
		Type:    apierror.TypeNotFound,
		Message: "not found",
	})
}
