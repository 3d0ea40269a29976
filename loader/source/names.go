package source

import (
	"path/filepath"
	"strings"

	"github.com/shubhambtra/chatapp-api-sub000/types"
)

// TypeFromName infers the document type from a file extension.
func TypeFromName(fileName string) (types.DocumentType, bool) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return types.DocumentPDF, true
	case ".docx":
		return types.DocumentDOCX, true
	case ".txt", ".text", ".md":
		return types.DocumentTXT, true
	}
	return "", false
}

// TitleFromName turns "refund_policy-2024.pdf" into "refund policy 2024".
func TitleFromName(fileName string) string {
	name := filepath.Base(fileName)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "untitled"
	}
	return name
}

func MimeFromType(t types.DocumentType) string {
	switch t {
	case types.DocumentPDF:
		return "application/pdf"
	case types.DocumentDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case types.DocumentTXT:
		return "text/plain"
	}
	return "application/octet-stream"
}
