package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/wallet-ledger/internal/apperr"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindInvalidRequest:        http.StatusBadRequest,
	apperr.KindInvalidAmount:         http.StatusBadRequest,
	apperr.KindSelfTransferForbidden: http.StatusForbidden,
	apperr.KindPartyNotFound:         http.StatusNotFound,
	apperr.KindWrongRole:             http.StatusNotFound,
	apperr.KindPartyNotActive:        http.StatusForbidden,
	apperr.KindWalletNotFound:        http.StatusNotFound,
	apperr.KindWalletNotActive:       http.StatusForbidden,
	apperr.KindInsufficientFunds:     http.StatusBadRequest,
	apperr.KindStoreConflict:         http.StatusServiceUnavailable,
	apperr.KindStoreUnavailable:      http.StatusInternalServerError,
	apperr.KindTimeout:               http.StatusGatewayTimeout,
	apperr.KindUnauthorized:          http.StatusUnauthorized,
	apperr.KindForbidden:             http.StatusForbidden,
	apperr.KindDuplicate:             http.StatusConflict,
	apperr.KindNotFound:              http.StatusNotFound,
}

func statusFor(k apperr.Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func errorBody(kind, msg string) gin.H {
	return gin.H{"success": false, "error": gin.H{"kind": kind, "message": msg}}
}

// writeError renders err as kind + message only.
func writeError(c *gin.Context, err error) {
	k := apperr.KindOf(err)
	c.JSON(statusFor(k), errorBody(string(k), apperr.Message(err)))
}

func abortWithError(c *gin.Context, err error) {
	k := apperr.KindOf(err)
	c.AbortWithStatusJSON(statusFor(k), errorBody(string(k), apperr.Message(err)))
}
