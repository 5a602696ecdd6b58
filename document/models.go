// Package document defines vault documents: the metadata of case files
// whose bytes live, usually encrypted, in object storage.
package document

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/types"
)

type Category string

const (
	CategoryContract         Category = "contract"
	CategoryEvidence         Category = "evidence"
	CategoryCorrespondence   Category = "correspondence"
	CategoryCourtDocument    Category = "court_document"
	CategoryIdentification   Category = "identification"
	CategoryFinancial        Category = "financial"
	CategoryLegalBrief       Category = "legal_brief"
	CategoryWitnessStatement Category = "witness_statement"
	CategoryMedicalRecord    Category = "medical_record"
	CategoryOther            Category = "other"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryContract, CategoryEvidence, CategoryCorrespondence, CategoryCourtDocument,
	CategoryIdentification, CategoryFinancial, CategoryLegalBrief,
	CategoryWitnessStatement, CategoryMedicalRecord, CategoryOther,
}

// Encryption is the at-rest format of a stored object.
type Encryption string

const (
	EncryptionNone   Encryption = "none"
	EncryptionAES256 Encryption = "aes256"
)

type Document struct {
	types.Entity
	ID               id.DocumentID     `json:"id"`
	CaseID           string            `json:"case_id"`
	OriginalName     string            `json:"original_name"`
	StoragePath      string            `json:"-"`
	Size             int64             `json:"size"`
	PlainSize        int64             `json:"plain_size"`
	MimeType         string            `json:"mime_type"`
	Category         Category          `json:"category"`
	PhysicalLocation string            `json:"physical_location,omitempty"`
	Description      string            `json:"description,omitempty"`
	DocumentDate     *time.Time        `json:"document_date,omitempty"`
	Confidential     bool              `json:"confidential"`
	Encryption       Encryption        `json:"encryption"`
	EntryID          id.EntryID        `json:"entry_id,omitzero"`
	UploadedBy       string            `json:"uploaded_by"`
	UpdatedBy        string            `json:"updated_by,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Version          int64             `json:"version"`
}

// IsEncrypted reports whether the stored object is ciphertext.
func (d *Document) IsEncrypted() bool { return d.Encryption == EncryptionAES256 }

// StoragePathFor builds the object key of a new document:
// dossiers/<case>/<unix millis>-<document id>-<name>, with ".enc" appended
// when encrypted. The document ID keeps keys of concurrent uploads apart.
func StoragePathFor(caseID string, documentID id.DocumentID, originalName string, at time.Time, enc Encryption) string {
	name := strconv.FormatInt(at.UnixMilli(), 10) + "-" + documentID.String() + "-" + SafeName(originalName)
	p := path.Join("dossiers", SafeName(caseID), name)
	if enc == EncryptionAES256 {
		p += ".enc"
	}
	return p
}

// SafeName reduces a client supplied file name to a single path element.
func SafeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case r == ' ':
			return '_'
		default:
			return r
		}
	}, name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "document"
	}
	return name
}

// Patch updates the descriptive fields of a document. Content, storage
// path, size and encryption mode are not patchable.
type Patch struct {
	Category         *Category
	PhysicalLocation *string
	Description      *string
	DocumentDate     *time.Time
	Confidential     *bool
}

// Apply copies the non-nil fields onto d.
func (p Patch) Apply(d *Document) {
	if p.Category != nil {
		d.Category = *p.Category
	}
	if p.PhysicalLocation != nil {
		d.PhysicalLocation = *p.PhysicalLocation
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.DocumentDate != nil {
		t := *p.DocumentDate
		d.DocumentDate = &t
	}
	if p.Confidential != nil {
		d.Confidential = *p.Confidential
	}
}

// Stats summarizes the documents of a case.
type Stats struct {
	Total        int              `json:"total"`
	TotalSize    int64            `json:"total_size"`
	ByCategory   map[Category]int `json:"by_category"`
	Confidential int              `json:"confidential"`
	Encrypted    int              `json:"encrypted"`
}

// Add counts d into s.
func (s *Stats) Add(d *Document) {
	if s.ByCategory == nil {
		s.ByCategory = make(map[Category]int)
	}
	s.Total++
	s.TotalSize += d.Size
	s.ByCategory[d.Category]++
	if d.Confidential {
		s.Confidential++
	}
	if d.IsEncrypted() {
		s.Encrypted++
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}
