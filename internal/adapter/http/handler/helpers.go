package handler

import (
	"ledger-engine/internal/adapter/http/dto"
	"ledger-engine/internal/adapter/http/middleware"
	"ledger-engine/internal/core/ports"
	"ledger-engine/pkg/apperror"
	"ledger-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxIdempotencyKeyLen = 128

// actor returns the authenticated caller or writes a 401.
func actor(c *gin.Context) (ports.Actor, bool) {
	a, ok := middleware.Actor(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return ports.Actor{}, false
	}
	return a, true
}

// pathID parses a UUID path parameter or writes a 400.
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Error(c, apperror.Validation("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// idempotencyKey reads the Idempotency-Key header.
func idempotencyKey(c *gin.Context) (string, bool) {
	key := c.GetHeader(middleware.HeaderIdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		response.Error(c, apperror.Validation("Idempotency-Key is too long"))
		return "", false
	}
	return key, true
}

// bindJSON decodes and sanitizes a request body.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	dto.SanitizeStruct(req)
	return true
}

// bindOptionalJSON is bindJSON for endpoints whose body may be empty.
func bindOptionalJSON(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, req)
}

func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	dto.SanitizeStruct(req)
	return true
}

// optionalID parses an optional UUID string already checked by the binding.
func optionalID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

// ownerScope returns whose resources a list endpoint shows. Admins may
// pass ?owner_id=; everyone else sees their own.
func ownerScope(c *gin.Context, a ports.Actor) (uuid.UUID, bool) {
	raw := c.Query("owner_id")
	if raw == "" {
		return a.UserID, true
	}
	if !a.Privileged() {
		response.Error(c, apperror.ErrForbidden())
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Error(c, apperror.Validation("invalid owner_id"))
		return uuid.Nil, false
	}
	return id, true
}
