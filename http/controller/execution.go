package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainsentry/reactor/dispatch"
	"github.com/chainsentry/reactor/model"
	"github.com/chainsentry/reactor/utils"
)

type ExecutionController struct {
	Engine *dispatch.Engine
}

func (ec *ExecutionController) Routers(routers gin.IRouter) {
	api := routers.Group("/executions")
	{
		api.GET("/:execution_id", ec.GetExecution)
		api.POST("/:execution_id/approve", ec.Approve)
		api.POST("/:execution_id/cancel", ec.Cancel)
	}
	routers.POST("/alerts", ec.InjectAlert)
}

func (ec *ExecutionController) GetExecution(c *gin.Context) {
	executionID := c.Param("execution_id")
	execution, err := ec.Engine.Status(executionID)
	if err != nil {
		c.JSON(http.StatusOK, model.Message{Code: http.StatusNotFound, Msg: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.Message{Code: http.StatusOK, Data: execution})
}

type approveRequest struct {
	Token string `json:"token"`
}

// Approve is the out-of-band approval channel: it unblocks an execution
// waiting on an irreversible step.
func (ec *ExecutionController) Approve(c *gin.Context) {
	executionID := c.Param("execution_id")
	req := approveRequest{}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusOK, model.Message{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}
	if err := ec.Engine.Approve(c.Request.Context(), executionID, req.Token); err != nil {
		c.JSON(http.StatusOK, model.Message{Code: http.StatusUnprocessableEntity, Msg: err.Error()})
		return
	}
	execution, err := ec.Engine.Status(executionID)
	if err != nil {
		c.JSON(http.StatusOK, model.Message{Code: http.StatusInternalServerError, Msg: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.Message{Code: http.StatusOK, Data: execution})
}

func (ec *ExecutionController) Cancel(c *gin.Context) {
	executionID := c.Param("execution_id")
	if err := ec.Engine.Cancel(executionID); err != nil {
		c.JSON(http.StatusOK, model.Message{Code: http.StatusUnprocessableEntity, Msg: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.Message{Code: http.StatusOK, Msg: "cancellation requested"})
}

type injectRequest struct {
	Alert model.Alert         `json:"alert"`
	Mode  model.ExecutionMode `json:"mode"`
}

// InjectAlert runs a synthetic alert through the engine, typically in
// dry_run mode to rehearse a playbook.
func (ec *ExecutionController) InjectAlert(c *gin.Context) {
	req := injectRequest{}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusOK, model.Message{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}
	req.Alert.EntityRef = utils.NormalizeEntityRef(req.Alert.EntityRef)
	if err := req.Alert.Validate(); err != nil {
		c.JSON(http.StatusOK, model.Message{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}
	if req.Mode != "" && req.Mode != model.ModeDryRun && req.Mode != model.ModeLive {
		c.JSON(http.StatusOK, model.Message{Code: http.StatusBadRequest, Msg: "mode must be dry_run or live"})
		return
	}
	contexts := ec.Engine.Handle(c.Request.Context(), req.Alert, req.Mode)
	c.JSON(http.StatusOK, model.Message{Code: http.StatusOK, Data: contexts})
}
