package configstore

import (
	"context"
	"sort"
)

// VerifyReport lists required server entries absent from the document.
type VerifyReport struct {
	Missing []string
}

// OK reports whether every required entry was present.
func (r VerifyReport) OK() bool { return len(r.Missing) == 0 }

// Verify checks the document for the required server names. A corrupt file
// is backed up and reset first, so every required name reports missing.
func (s *Store) Verify(ctx context.Context, required []string) (VerifyReport, error) {
	var doc Document
	err := s.Apply(ctx, func(d Document) (Document, error) {
		doc = d
		return d, nil
	})
	if err != nil {
		return VerifyReport{}, err
	}

	var missing []string
	for _, name := range required {
		if _, ok := doc.Server(name); !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return VerifyReport{Missing: missing}, nil
}

// Repair adds default entries for every required server name missing from
// the document, drawing on the known-good template table. Present entries
// are left untouched.
func (s *Store) Repair(ctx context.Context, required []string) error {
	return s.Apply(ctx, func(doc Document) (Document, error) {
		for _, name := range required {
			if _, ok := doc.Server(name); !ok {
				doc.SetServer(name, TemplateFor(name))
			}
		}
		return doc, nil
	})
}
