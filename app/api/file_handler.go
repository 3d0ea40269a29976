package api

import (
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/shubhambtra/chatapp-api-sub000/app/middleware"
	"github.com/shubhambtra/chatapp-api-sub000/loader/source"
	"github.com/shubhambtra/chatapp-api-sub000/service"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

type FileHandler struct {
	svc *service.Service
}

func NewFileHandler(svc *service.Service) *FileHandler {
	return &FileHandler{
		svc: svc,
	}
}

// HandleUploadDocument accepts a multipart "file" with optional title,
// description and type fields. Type and title default from the file name.
func (h *FileHandler) HandleUploadDocument(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	docType := types.DocumentType(utils.CopyString(strings.ToLower(c.FormValue("type"))))
	if docType == "" {
		inferred, ok := source.TypeFromName(fileHeader.Filename)
		if !ok {
			return NewError(fiber.StatusUnsupportedMediaType, "cannot infer document type from "+fileHeader.Filename)
		}
		docType = inferred
	}

	// Form values alias the request buffer; the document keeps them.
	title := utils.CopyString(c.FormValue("title"))
	if title == "" {
		title = source.TitleFromName(fileHeader.Filename)
	}
	mimeType := fileHeader.Header.Get(fiber.HeaderContentType)
	if mimeType == "" || mimeType == fiber.MIMEOctetStream {
		mimeType = source.MimeFromType(docType)
	}

	params := types.SubmitFileParams{
		Title:       title,
		Description: utils.CopyString(c.FormValue("description")),
		Type:        docType,
		FileName:    fileHeader.Filename,
		MimeType:    mimeType,
		Data:        data,
	}
	if !docType.Valid() || docType == types.DocumentText {
		return NewError(fiber.StatusUnsupportedMediaType, "unsupported document type "+string(docType))
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}

	resp, err := h.svc.SubmitFile(c.UserContext(), middleware.TenantID(c), params)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}
