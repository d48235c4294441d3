package filter

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shineum/form-relay/internal/submission"
)

// DefaultMaxAttachmentBytes is used when attachments are enabled without an
// explicit size limit.
const DefaultMaxAttachmentBytes = 10 * 1024 * 1024

// ReasonAttachmentsDisabled is returned when a submission carries an
// attachment but the deployment does not accept them.
const ReasonAttachmentsDisabled = "Attachments are not enabled"

// unsupportedExtensions are the file types the delivery transports refuse
// (the Amazon SES unsupported attachment list). They are rejected whatever
// MIME type the client claims.
var unsupportedExtensions = map[string]struct{}{
	".ade": {}, ".adp": {}, ".app": {}, ".asp": {}, ".bas": {}, ".bat": {},
	".cer": {}, ".chm": {}, ".cmd": {}, ".com": {}, ".cpl": {}, ".crt": {},
	".csh": {}, ".der": {}, ".exe": {}, ".fxp": {}, ".gadget": {}, ".hlp": {},
	".hta": {}, ".inf": {}, ".ins": {}, ".isp": {}, ".its": {}, ".js": {},
	".jse": {}, ".ksh": {}, ".lib": {}, ".lnk": {}, ".mad": {}, ".maf": {},
	".mag": {}, ".mam": {}, ".maq": {}, ".mar": {}, ".mas": {}, ".mat": {},
	".mau": {}, ".mav": {}, ".maw": {}, ".mda": {}, ".mdb": {}, ".mde": {},
	".mdt": {}, ".mdw": {}, ".mdz": {}, ".msc": {}, ".msh": {}, ".msh1": {},
	".msh2": {}, ".mshxml": {}, ".msh1xml": {}, ".msh2xml": {}, ".msi": {},
	".msp": {}, ".mst": {}, ".ops": {}, ".pcd": {}, ".pif": {}, ".plg": {},
	".prf": {}, ".prg": {}, ".ps1": {}, ".ps1xml": {}, ".ps2": {}, ".ps2xml": {},
	".psc1": {}, ".psc2": {}, ".reg": {}, ".scf": {}, ".scr": {}, ".sct": {},
	".shb": {}, ".shs": {}, ".sys": {}, ".tmp": {}, ".url": {}, ".vb": {},
	".vbe": {}, ".vbs": {}, ".vps": {}, ".vsmacros": {}, ".vss": {}, ".vst": {},
	".vsw": {}, ".vxd": {}, ".ws": {}, ".wsc": {}, ".wsf": {}, ".wsh": {},
	".xnk": {},
}

// AttachmentFilter enforces size, MIME and file type policy on attachments.
type AttachmentFilter struct {
	enabled  bool
	maxBytes int64
	allowed  map[string]struct{}
	blocked  map[string]struct{}
}

// NewAttachmentFilter creates an AttachmentFilter from cfg.
func NewAttachmentFilter(cfg Config) *AttachmentFilter {
	maxBytes := cfg.MaxAttachmentBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachmentBytes
	}
	return &AttachmentFilter{
		enabled:  cfg.AttachmentsEnabled,
		maxBytes: maxBytes,
		allowed:  lowerSet(cfg.AllowedMIMETypes),
		blocked:  lowerSet(cfg.BlockedMIMETypes),
	}
}

// Check evaluates the rule. Submissions without an attachment always pass.
func (f *AttachmentFilter) Check(sub submission.Submission) Verdict {
	att := sub.Attachment
	if att == nil {
		return Allowed
	}
	if !f.enabled {
		return blocked(ReasonAttachmentsDisabled)
	}

	if int64(att.Size()) > f.maxBytes {
		return blocked(fmt.Sprintf("Attachment exceeds maximum size of %d bytes", f.maxBytes))
	}

	mediaType := baseMediaType(att.ContentType)
	if _, hit := f.blocked[mediaType]; hit {
		return blocked(fmt.Sprintf("Attachment type %s is not allowed", mediaType))
	}
	if len(f.allowed) > 0 {
		if _, hit := f.allowed[mediaType]; !hit {
			return blocked(fmt.Sprintf("Attachment type %s is not allowed", mediaType))
		}
	}

	// Windows drops trailing dots and spaces, so "evil.exe." is still .exe.
	name := strings.TrimRight(att.Filename, ". ")
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if _, hit := unsupportedExtensions[ext]; hit {
			return blocked(fmt.Sprintf("Attachment file type %s is not supported", ext))
		}
	}
	return Allowed
}

// baseMediaType strips parameters and normalizes case:
// "Text/Plain; charset=utf-8" becomes "text/plain".
func baseMediaType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
