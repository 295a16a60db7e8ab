package inventory

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/driftlake/intake/internal/domain"
)

// categoryByExt maps lowercased filename extensions to categories.
// Extension wins over MIME type so that, say, a .log full of binary
// garbage is still treated as text and surfaces its decode problems.
var categoryByExt = map[string]domain.FileCategory{
	".txt":      domain.CategoryText,
	".text":     domain.CategoryText,
	".md":       domain.CategoryText,
	".markdown": domain.CategoryText,
	".rst":      domain.CategoryText,
	".log":      domain.CategoryText,

	".go":    domain.CategoryCode,
	".py":    domain.CategoryCode,
	".js":    domain.CategoryCode,
	".ts":    domain.CategoryCode,
	".jsx":   domain.CategoryCode,
	".tsx":   domain.CategoryCode,
	".java":  domain.CategoryCode,
	".c":     domain.CategoryCode,
	".h":     domain.CategoryCode,
	".cpp":   domain.CategoryCode,
	".hpp":   domain.CategoryCode,
	".cc":    domain.CategoryCode,
	".rs":    domain.CategoryCode,
	".rb":    domain.CategoryCode,
	".php":   domain.CategoryCode,
	".sh":    domain.CategoryCode,
	".bash":  domain.CategoryCode,
	".ps1":   domain.CategoryCode,
	".sql":   domain.CategoryCode,
	".html":  domain.CategoryCode,
	".htm":   domain.CategoryCode,
	".css":   domain.CategoryCode,
	".scss":  domain.CategoryCode,
	".kt":    domain.CategoryCode,
	".swift": domain.CategoryCode,
	".pl":    domain.CategoryCode,
	".lua":   domain.CategoryCode,
	".r":     domain.CategoryCode,
	".scala": domain.CategoryCode,

	".json":   domain.CategoryData,
	".jsonl":  domain.CategoryData,
	".ndjson": domain.CategoryData,
	".csv":    domain.CategoryData,
	".tsv":    domain.CategoryData,
	".xml":    domain.CategoryData,
	".yaml":   domain.CategoryData,
	".yml":    domain.CategoryData,
	".toml":   domain.CategoryData,
	".ini":    domain.CategoryData,

	".doc":   domain.CategoryDocument,
	".docx":  domain.CategoryDocument,
	".odt":   domain.CategoryDocument,
	".rtf":   domain.CategoryDocument,
	".pages": domain.CategoryDocument,

	".xls":     domain.CategorySpreadsheet,
	".xlsx":    domain.CategorySpreadsheet,
	".ods":     domain.CategorySpreadsheet,
	".numbers": domain.CategorySpreadsheet,

	".ppt":  domain.CategoryPresentation,
	".pptx": domain.CategoryPresentation,
	".odp":  domain.CategoryPresentation,
	".key":  domain.CategoryPresentation,

	".pdf": domain.CategoryPDF,

	".jpg":  domain.CategoryImage,
	".jpeg": domain.CategoryImage,
	".png":  domain.CategoryImage,
	".gif":  domain.CategoryImage,
	".bmp":  domain.CategoryImage,
	".svg":  domain.CategoryImage,
	".webp": domain.CategoryImage,
	".tiff": domain.CategoryImage,
	".ico":  domain.CategoryImage,
	".heic": domain.CategoryImage,

	".mp3":  domain.CategoryAudio,
	".wav":  domain.CategoryAudio,
	".flac": domain.CategoryAudio,
	".ogg":  domain.CategoryAudio,
	".m4a":  domain.CategoryAudio,
	".aac":  domain.CategoryAudio,
	".opus": domain.CategoryAudio,

	".mp4":  domain.CategoryVideo,
	".mkv":  domain.CategoryVideo,
	".avi":  domain.CategoryVideo,
	".mov":  domain.CategoryVideo,
	".webm": domain.CategoryVideo,
	".wmv":  domain.CategoryVideo,
	".flv":  domain.CategoryVideo,

	".zip":  domain.CategoryArchive,
	".tar":  domain.CategoryArchive,
	".gz":   domain.CategoryArchive,
	".tgz":  domain.CategoryArchive,
	".bz2":  domain.CategoryArchive,
	".tbz2": domain.CategoryArchive,
	".xz":   domain.CategoryArchive,
	".txz":  domain.CategoryArchive,
	".rar":  domain.CategoryArchive,
	".7z":   domain.CategoryArchive,

	".exe":   domain.CategoryBinary,
	".dll":   domain.CategoryBinary,
	".so":    domain.CategoryBinary,
	".dylib": domain.CategoryBinary,
	".bin":   domain.CategoryBinary,
	".o":     domain.CategoryBinary,
	".a":     domain.CategoryBinary,
	".wasm":  domain.CategoryBinary,
}

// Categorize classifies a file by its extension, falling back to the
// MIME type prefix for files the extension table does not know.
func Categorize(name, mimeType string) domain.FileCategory {
	ext := strings.ToLower(filepath.Ext(name))
	if cat, ok := categoryByExt[ext]; ok {
		return cat
	}
	return categorizeByMIME(mimeType)
}

func categorizeByMIME(mimeType string) domain.FileCategory {
	if mimeType == "" {
		return domain.CategoryUnknown
	}
	mt := mimeType
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mt = parsed
	}

	switch {
	case strings.HasPrefix(mt, "text/"):
		if mt == "text/csv" {
			return domain.CategoryData
		}
		return domain.CategoryText
	case strings.HasPrefix(mt, "image/"):
		return domain.CategoryImage
	case strings.HasPrefix(mt, "audio/"):
		return domain.CategoryAudio
	case strings.HasPrefix(mt, "video/"):
		return domain.CategoryVideo
	}

	switch mt {
	case "application/pdf":
		return domain.CategoryPDF
	case "application/json", "application/xml", "application/toml", "application/x-ndjson":
		return domain.CategoryData
	case "application/zip", "application/x-tar", "application/gzip",
		"application/x-bzip2", "application/x-xz", "application/x-7z-compressed",
		"application/x-rar-compressed", "application/vnd.rar":
		return domain.CategoryArchive
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/msword", "application/vnd.oasis.opendocument.text":
		return domain.CategoryDocument
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel", "application/vnd.oasis.opendocument.spreadsheet":
		return domain.CategorySpreadsheet
	case "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/vnd.ms-powerpoint", "application/vnd.oasis.opendocument.presentation":
		return domain.CategoryPresentation
	case "application/octet-stream", "application/x-executable", "application/wasm",
		"application/vnd.microsoft.portable-executable", "application/x-elf",
		"application/x-mach-binary":
		return domain.CategoryBinary
	}
	return domain.CategoryUnknown
}
