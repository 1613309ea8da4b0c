package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messenger-service/internal/upload"
)

// UploadHandler forwards client media to the upload collaborator.
type UploadHandler struct {
	client *upload.Client
}

// NewUploadHandler builds an UploadHandler.
func NewUploadHandler(client *upload.Client) *UploadHandler {
	return &UploadHandler{client: client}
}

// Upload accepts one multipart file and returns the hosted URL. Collaborator
// failures surface as the soft-failure body, never as a 5xx.
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()

	name := fmt.Sprintf("%s%s", uuid.NewString(), filepath.Ext(fileHeader.Filename))
	result := h.client.Upload(c.Request.Context(), name, file)
	c.JSON(http.StatusOK, result)
}
