package main

import (
	"errors"
	"net/http"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/models"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"github.com/gin-gonic/gin"
)

func registerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Privileged roles are provisioned by an admin, not self-registered.
		switch input.Role {
		case models.UserRoleAdmin, models.UserRoleManufacturer, models.UserRoleDistributor:
			c.JSON(http.StatusForbidden, gin.H{"error": "role requires admin provisioning"})
			return
		}

		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			if errors.Is(err, models.ErrEmailAlreadyRegistered) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			config.LogError(logger, "authHandler.go", "registerHandler", "CreateUser", input.Email, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		token, err := utils.JwtGenerate(user.ID, string(user.Role), user.Name)
		if err != nil {
			config.LogError(logger, "authHandler.go", "registerHandler", "JwtGenerate", user.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"user": user, "token": token})
	}
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var body struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := models.Authenticate(c.Request.Context(), body.Email, body.Password)
		if err != nil {
			if errors.Is(err, models.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			config.LogError(logger, "authHandler.go", "loginHandler", "Authenticate", body.Email, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}

		token, err := utils.JwtGenerate(user.ID, string(user.Role), user.Name)
		if err != nil {
			config.LogError(logger, "authHandler.go", "loginHandler", "JwtGenerate", user.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user, "token": token})
	}
}
