package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// handleGetOutboundWebhooks возвращает список вебхуков
func (rs *RestServer) handleGetOutboundWebhooks(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: rs.outboundWebhooks.GetWebhooks()})
}

// handleCreateOutboundWebhook регистрирует вебхук
func (rs *RestServer) handleCreateOutboundWebhook(c *gin.Context) {
	var webhook OutboundWebhook
	if err := c.ShouldBindJSON(&webhook); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	created := rs.outboundWebhooks.AddWebhook(webhook)
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Data: created})
}

// handleDeleteOutboundWebhook удаляет вебхук
func (rs *RestServer) handleDeleteOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Некорректный идентификатор"})
		return
	}
	if !rs.outboundWebhooks.DeleteWebhook(id) {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Вебхук не найден"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Вебхук удалён"})
}
