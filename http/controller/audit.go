package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainsentry/reactor/model"
)

type AuditController struct{}

func (ac *AuditController) Routers(routers gin.IRouter) {
	routers.GET("/executions/:execution_id/audit", ac.ListByExecution)
	routers.GET("/audit", ac.ListByRange)
}

func (ac *AuditController) ListByExecution(c *gin.Context) {
	executionID := c.Param("execution_id")
	entries := model.AuditEntries{}
	if err := entries.ListByExecution(executionID); err != nil {
		c.JSON(http.StatusOK, model.Message{Code: http.StatusInternalServerError, Msg: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.Message{Code: http.StatusOK, Data: entries})
}

func (ac *AuditController) ListByRange(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusOK, model.Message{Code: http.StatusBadRequest, Msg: "start must be RFC3339"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		end = time.Now()
	}
	entries := model.AuditEntries{}
	if err := entries.ListByRange(start, end); err != nil {
		c.JSON(http.StatusOK, model.Message{Code: http.StatusInternalServerError, Msg: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.Message{Code: http.StatusOK, Data: entries})
}
