package store

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/assessment-ingest/internal/model"
)

// Seed is the YAML fixture format for development data.
type Seed struct {
	AssessmentTypes []model.AssessmentType `yaml:"assessment_types"`
	Uploads         []SeedUpload           `yaml:"uploads"`
}

// SeedUpload describes an upload row to create.
type SeedUpload struct {
	StudentUserID string `yaml:"student_user_id"`
	TypeID        int64  `yaml:"type_id"`
	StorageKey    string `yaml:"storage_key"`
	MIME          string `yaml:"mime"`
	SizeBytes     int64  `yaml:"size_bytes"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "seed: read %s", path)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "seed: parse yaml")
	}
	slugs := make(map[string]bool, len(s.AssessmentTypes))
	for _, t := range s.AssessmentTypes {
		if t.ID <= 0 || t.Slug == "" {
			return nil, eris.Errorf("seed: assessment type needs id and slug: %+v", t)
		}
		if slugs[t.Slug] {
			return nil, eris.Errorf("seed: duplicate slug %q", t.Slug)
		}
		slugs[t.Slug] = true
	}
	for i, u := range s.Uploads {
		if u.TypeID <= 0 || u.StorageKey == "" || u.MIME == "" {
			return nil, eris.Errorf("seed: upload %d needs type_id, storage_key and mime", i)
		}
	}
	return &s, nil
}

// ApplySeed upserts the seed's assessment types and creates its uploads.
// It returns the created uploads.
func ApplySeed(ctx context.Context, st Store, s *Seed) ([]model.Upload, error) {
	if err := st.UpsertAssessmentTypes(ctx, s.AssessmentTypes); err != nil {
		return nil, err
	}
	var created []model.Upload
	for _, u := range s.Uploads {
		up, err := st.CreateUpload(ctx, &model.Upload{
			StudentUserID: u.StudentUserID,
			TypeID:        u.TypeID,
			StorageKey:    u.StorageKey,
			MIME:          u.MIME,
			SizeBytes:     u.SizeBytes,
		})
		if err != nil {
			return created, err
		}
		created = append(created, *up)
	}
	zap.L().Info("seed: applied",
		zap.Int("assessment_types", len(s.AssessmentTypes)),
		zap.Int("uploads", len(created)),
	)
	return created, nil
}
