package handler

import (
	"errors"
	"net/http"
	"strconv"

	"documind-go/internal/middleware"
	"documind-go/internal/repository"
	"documind-go/internal/service"
	"documind-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// maxUploadSize 限制单个上传文件的大小（50MB）。
const maxUploadSize = 50 << 20

// DocumentHandler 负责文档生命周期与检索相关的请求。
type DocumentHandler struct {
	documentService  service.DocumentService
	retrievalService service.RetrievalService
}

// NewDocumentHandler 创建一个新的 DocumentHandler。
func NewDocumentHandler(documentService service.DocumentService, retrievalService service.RetrievalService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService, retrievalService: retrievalService}
}

// Upload 接收 multipart 上传的 PDF 并发起异步摄取。
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少上传文件", "data": nil})
		return
	}
	if fileHeader.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": http.StatusRequestEntityTooLarge, "message": "文件过大", "data": nil})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取上传文件失败", "data": nil})
		return
	}
	defer file.Close()

	doc, err := h.documentService.Upload(c.Request.Context(), middleware.CurrentUserID(c), fileHeader.Filename, fileHeader.Size, file)
	if errors.Is(err, service.ErrUnsupportedFileType) {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "仅支持上传 PDF 文件", "data": nil})
		return
	}
	if err != nil {
		log.Errorf("文档上传失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "文档上传失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": doc})
}

// List 返回当前用户的全部文档。
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documentService.List(middleware.CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询文档列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": docs})
}

// Get 返回单个文档的元数据与处理进度。
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documentService.Get(middleware.CurrentUserID(c), c.Param("id"))
	if errors.Is(err, repository.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文档不存在", "data": nil})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询文档失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": doc})
}

// Delete 删除文档及其派生数据。
func (h *DocumentHandler) Delete(c *gin.Context) {
	err := h.documentService.Delete(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if errors.Is(err, repository.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文档不存在", "data": nil})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除文档失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// Retry 对失败的文档重新发起摄取。
func (h *DocumentHandler) Retry(c *gin.Context) {
	err := h.documentService.Retry(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	switch {
	case errors.Is(err, repository.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文档不存在", "data": nil})
	case errors.Is(err, service.ErrRetryNotAllowed):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "仅失败且仍保留文件的文档可以重试", "data": nil})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "重试失败", "data": nil})
	default:
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
	}
}

// Retrieve 在文档内执行混合检索，直接返回排好序的分块。
func (h *DocumentHandler) Retrieve(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 query 参数", "data": nil})
		return
	}
	topK := 0
	if raw := c.Query("topK"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的 topK 参数", "data": nil})
			return
		}
		topK = parsed
	}

	results, err := h.retrievalService.Retrieve(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), query, topK)
	if errors.Is(err, service.ErrDocumentNotReady) {
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "文档尚未完成处理", "data": nil})
		return
	}
	if err != nil {
		log.Errorf("检索失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检索失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": results})
}
