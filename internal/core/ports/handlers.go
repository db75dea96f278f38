package ports

import "github.com/gin-gonic/gin"

type SignalingHandler interface {
	CreateProducer(c *gin.Context)
	CreateConsumer(c *gin.Context)
	GetProducer(c *gin.Context)
	DestroyProducer(c *gin.Context)
	RemoveConsumer(c *gin.Context)
}
