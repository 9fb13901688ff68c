package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/iahome/internal/catalog/domain"
)

func (s *Server) ListModules(c *gin.Context) {
	activeOnly := true
	if all, err := parseOptionalBool(c.Query("all")); err != nil {
		AbortWithError(c, newValidationError("all", "invalid_all", "invalid all"))
		return
	} else if all != nil && *all {
		activeOnly = false
	}

	modules, err := s.catalogSvc.List(c.Request.Context(), activeOnly)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modules": modules})
}

func (s *Server) GetModule(c *gin.Context) {
	module, err := s.catalogSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

func (s *Server) CreateModule(c *gin.Context) {
	var req catalogdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	module, err := s.catalogSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, module)
}
