package facility

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticSource(facilities ...*model.Facility) (Source, *atomic.Int32) {
	var loads atomic.Int32
	return SourceFunc(func(ctx context.Context) ([]*model.Facility, error) {
		loads.Add(1)
		return facilities, nil
	}), &loads
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "oficina sao joao", Normalize("  Oficina São-João "))
	assert.Equal(t, "porto 2", Normalize("PORTO (2)"))
	assert.Equal(t, "", Normalize(" -- "))
}

func TestNormalize_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	var wrong atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2000; j++ {
				if Normalize("Oficina São João") != "oficina sao joao" {
					wrong.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, wrong.Load())
}

func TestDirectory_ResolveConcurrent(t *testing.T) {
	src, _ := staticSource(
		&model.Facility{Name: "Oficina São João", TemplateName: "visit_sj"},
		&model.Facility{Name: "Évora Sul", TemplateName: "visit_ev"},
	)
	dir := NewDirectory(src, 0.6)
	ctx := context.Background()

	var wg sync.WaitGroup
	var wrong atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name, want := "oficina sao joao", "visit_sj"
			if i%2 == 1 {
				name, want = "ÉVORA  sul", "visit_ev"
			}
			for j := 0; j < 500; j++ {
				f, ok := dir.Resolve(ctx, name)
				if !ok || f.TemplateName != want {
					wrong.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Zero(t, wrong.Load())
}

func TestScore(t *testing.T) {
	a := tokenSet("lisboa centro")
	assert.Equal(t, 1.0, Score(a, tokenSet("lisboa centro")))
	assert.Equal(t, 0.9, Score(tokenSet("lisboa"), a))
	assert.InDelta(t, 0.5, Score(tokenSet("lisboa norte"), a), 0.0001)
	assert.Zero(t, Score(tokenSet("porto"), a))
	assert.Zero(t, Score(nil, a))
}

func TestDirectory_Resolve(t *testing.T) {
	src, loads := staticSource(
		&model.Facility{Name: "Lisboa Centro", TemplateName: "visit_lx"},
		&model.Facility{Name: "Lisboa Oriente", TemplateName: "visit_or"},
		&model.Facility{Name: "Porto Norte", TemplateName: "visit_po"},
	)
	dir := NewDirectory(src, 0.6)
	ctx := context.Background()

	t.Run("exact match after normalization", func(t *testing.T) {
		f, ok := dir.Resolve(ctx, "lisboa   ORIENTE")
		require.True(t, ok)
		assert.Equal(t, "visit_or", f.TemplateName)
	})

	t.Run("exact match beats an earlier partial match", func(t *testing.T) {
		f, ok := dir.Resolve(ctx, "Porto Norte")
		require.True(t, ok)
		assert.Equal(t, "visit_po", f.TemplateName)
	})

	t.Run("ambiguous partial match takes the first candidate", func(t *testing.T) {
		f, ok := dir.Resolve(ctx, "Lisboa")
		require.True(t, ok)
		assert.Equal(t, "Lisboa Centro", f.Name)
	})

	t.Run("no match below threshold", func(t *testing.T) {
		_, ok := dir.Resolve(ctx, "Faro")
		assert.False(t, ok)
		_, ok = dir.Resolve(ctx, "")
		assert.False(t, ok)
	})

	assert.Equal(t, int32(1), loads.Load(), "table is loaded once")
	assert.Equal(t, 3, dir.Len())

	dir.Invalidate()
	assert.Equal(t, 0, dir.Len())
	_, ok := dir.Resolve(ctx, "Porto Norte")
	assert.True(t, ok)
	assert.Equal(t, int32(2), loads.Load())
}

func TestDirectory_ReloadError(t *testing.T) {
	dir := NewDirectory(SourceFunc(func(ctx context.Context) ([]*model.Facility, error) {
		return nil, errors.New("db down")
	}), 0)

	_, ok := dir.Resolve(context.Background(), "Lisboa")
	assert.False(t, ok)
	assert.Error(t, dir.Reload(context.Background()))

	assert.ErrorIs(t, NewDirectory(nil, 0).Reload(context.Background()), ErrNoSource)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facilities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
facilities:
  - name: Lisboa Centro
    template: visit_reminder
    language: pt_PT
    phone: "213000000"
    address: Av. da Liberdade 1
  - name: Porto Norte
    template: visit_reminder_porto
`), 0o600))

	list, err := FileSource{Path: path}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "visit_reminder", list[0].TemplateName)
	assert.Equal(t, "pt_PT", list[0].TemplateLanguage)
	assert.Equal(t, "213000000", list[0].Phone)

	_, err = Parse([]byte("facilities:\n  - template: x\n"))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFallbackSource(t *testing.T) {
	empty, _ := staticSource()
	failing := SourceFunc(func(ctx context.Context) ([]*model.Facility, error) { return nil, errors.New("boom") })
	good, _ := staticSource(&model.Facility{Name: "Braga"})

	list, err := FallbackSource{failing, empty, good}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Braga", list[0].Name)
}
