package signer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/config"
)

// CredentialStore resuelve una referencia (p. ej. "empresa-a") a su credencial de firma.
type CredentialStore interface {
	Credential(ctx context.Context, ref string) (*entity.SigningCredential, error)
}

type cachedCredential struct {
	cred     *entity.SigningCredential
	loadedAt time.Time
}

// FileCredentialStore lee los .pfx configurados y los mantiene en memoria durante TTL.
type FileCredentialStore struct {
	sources map[string]config.CredentialSource
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedCredential
}

// NewFileCredentialStore crea el almacén. ttl <= 0 desactiva la caché.
func NewFileCredentialStore(sources map[string]config.CredentialSource, ttl time.Duration) *FileCredentialStore {
	return &FileCredentialStore{
		sources: sources,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]cachedCredential),
	}
}

// Credential implementa CredentialStore.
func (s *FileCredentialStore) Credential(ctx context.Context, ref string) (*entity.SigningCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, ok := s.sources[ref]
	if !ok {
		return nil, fmt.Errorf("%w: credencial %q no configurada", domain.ErrNotFound, ref)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cache[ref]; ok && s.ttl > 0 && s.now().Sub(c.loadedAt) < s.ttl {
		return c.cred, nil
	}
	cred, err := LoadCredentialFile(src.Path, src.Password)
	if err != nil {
		return nil, fmt.Errorf("credencial %q: %w", ref, err)
	}
	if s.ttl > 0 {
		s.cache[ref] = cachedCredential{cred: cred, loadedAt: s.now()}
	}
	return cred, nil
}

// Invalidate descarta la credencial en caché (rotación de certificado).
func (s *FileCredentialStore) Invalidate(ref string) {
	s.mu.Lock()
	delete(s.cache, ref)
	s.mu.Unlock()
}

// StaticCredentialStore credenciales ya cargadas (tests y modo memoria).
type StaticCredentialStore map[string]*entity.SigningCredential

// Credential implementa CredentialStore.
func (s StaticCredentialStore) Credential(_ context.Context, ref string) (*entity.SigningCredential, error) {
	c, ok := s[ref]
	if !ok {
		return nil, fmt.Errorf("%w: credencial %q no configurada", domain.ErrNotFound, ref)
	}
	return c, nil
}

var (
	_ CredentialStore = (*FileCredentialStore)(nil)
	_ CredentialStore = StaticCredentialStore(nil)
)
