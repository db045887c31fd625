package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainsentry/reactor/dispatch"
	"github.com/chainsentry/reactor/http/controller"
	"github.com/chainsentry/reactor/middleware"
)

func addRouters(r gin.IRouter, engine *dispatch.Engine) {
	addHealthRouter(r)
	apiV1 := setV1Group(r)
	execCtrl := controller.ExecutionController{Engine: engine}
	execCtrl.Routers(apiV1)
	auditCtrl := controller.AuditController{}
	auditCtrl.Routers(apiV1)
}

func setV1Group(r gin.IRouter) gin.IRouter {
	return r.Group("/api/v1", middleware.CheckAPIKEY())
}

func addHealthRouter(r gin.IRouter) {
	r.GET("/health", func(context *gin.Context) {
		context.JSON(http.StatusOK, fmt.Sprintf("running on %v", time.Now()))
	})
}
