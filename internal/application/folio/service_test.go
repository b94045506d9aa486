package folio_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/application/folio"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/internal/infrastructure/events"
	"github.com/jhoicas/dte-api/internal/infrastructure/memory"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/siitest"
	"github.com/jhoicas/dte-api/pkg/logger"
)

const (
	company   = "empresa-1"
	issuerRUT = "76192083-9"
)

// foliosStub documentos emitidos fijos para auditar secuencias con duplicados.
type foliosStub struct {
	repository.DocumentRepository
	folios []int64
}

func (f *foliosStub) ListFolios(context.Context, string, int) ([]int64, error) {
	return f.folios, nil
}

type fixture struct {
	svc    *folio.Service
	ranges *memory.RangeRepo
	events *events.Recorder
	docs   *foliosStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ranges: memory.NewRangeRepository(),
		events: events.NewRecorder(),
		docs:   &foliosStub{},
	}
	f.svc = folio.NewService(f.ranges, f.docs, f.events, nil, logger.Nop())
	return f
}

func grant(t *testing.T, opts siitest.CAFOptions) []byte {
	t.Helper()
	if opts.IssuerRUT == "" {
		opts.IssuerRUT = issuerRUT
	}
	if opts.DocType == 0 {
		opts.DocType = 33
	}
	raw, err := siitest.NewCAF(opts)
	require.NoError(t, err)
	return raw
}

func TestImportRange_Exitoso(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.ImportRange(context.Background(), grant(t, siitest.CAFOptions{From: 1, To: 20}), company)
	require.NoError(t, err)

	r := res.Range
	assert.Equal(t, company, r.CompanyID)
	assert.Equal(t, 33, r.DocumentTypeCode)
	assert.Equal(t, int64(1), r.FromNumber)
	assert.Equal(t, int64(20), r.ToNumber)
	assert.Equal(t, int64(0), r.CurrentNumber)
	assert.True(t, r.Active)
	assert.NotEmpty(t, r.RawAuthorization)
	assert.Contains(t, res.Warnings, "el CAF no trae firma del SII (FRMA)")

	stored, err := f.ranges.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.LessOrEqual(t, stored.FromNumber-1, stored.CurrentNumber)
	assert.LessOrEqual(t, stored.CurrentNumber, stored.ToNumber)
}

func TestImportRange_Superposicion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 1, To: 100}), company)
	require.NoError(t, err)

	cases := []struct{ from, to int64 }{{50, 150}, {100, 101}, {1, 1000}, {10, 20}}
	for _, c := range cases {
		_, err := f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: c.from, To: c.to}), company)
		assert.ErrorIs(t, err, domain.ErrRangeOverlap, "[%d,%d]", c.from, c.to)
	}

	_, err = f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 101, To: 200}), company)
	assert.NoError(t, err)
	// otro tipo de documento no compite por los mismos folios
	_, err = f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{DocType: 61, From: 1, To: 100}), company)
	assert.NoError(t, err)
}

func TestImportRange_Vencido(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ImportRange(context.Background(), grant(t, siitest.CAFOptions{
		From: 1, To: 10, AuthorizedAt: time.Now().AddDate(-1, 0, 0),
	}), company)
	assert.ErrorIs(t, err, domain.ErrRangeExpired)
}

func TestImportRange_PorVencerEsAdvertencia(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.ImportRange(context.Background(), grant(t, siitest.CAFOptions{
		From: 1, To: 10, ExpiresOn: time.Now().AddDate(0, 0, 10),
	}), company)
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[1], "vence en")
}

func TestImportRange_Validaciones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{DocType: 99, From: 1, To: 10}), company)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{IssuerRUT: "76192083-1", From: 1, To: 10}), company)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 10, To: 10}), company)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ImportRange(ctx, []byte("<AUTORIZACION>"), company)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 1, To: 10}), "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestImportRange_VerificaFirmaDelSII(t *testing.T) {
	authority, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := newFixture(t)
	f.svc.WithAuthorityKey(&authority.PublicKey)

	res, err := f.svc.ImportRange(context.Background(), grant(t, siitest.CAFOptions{From: 1, To: 10, AuthorityKey: authority}), company)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	_, err = f.svc.ImportRange(context.Background(), grant(t, siitest.CAFOptions{From: 11, To: 20, AuthorityKey: other}), company)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAllocateNext_SecuencialYAlertas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 1, To: 60}), company)
	require.NoError(t, err)

	a, err := f.svc.AllocateNext(ctx, company, 33)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.FolioNumber)
	assert.Equal(t, int64(59), a.Remaining)
	assert.Equal(t, dte.AlertOK, a.Alert.Level)

	for i := 0; i < 9; i++ {
		a, err = f.svc.AllocateNext(ctx, company, 33)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(10), a.FolioNumber)
	assert.Equal(t, dte.AlertWarning, a.Alert.Level)

	alerts := f.events.FolioAlerts()
	require.Len(t, alerts, 10)
	assert.Equal(t, int64(50), alerts[9].Remaining)
	assert.Equal(t, dte.AlertWarning, alerts[9].Severity)
	assert.Equal(t, company, alerts[9].CompanyID)
}

func TestAllocateNext_ConcurrenteSinDuplicados(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 1, To: 300}), company)
	require.NoError(t, err)
	// dos folios ya emitidos
	for i := 0; i < 2; i++ {
		_, err := f.svc.AllocateNext(ctx, company, 33)
		require.NoError(t, err)
	}

	const n = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	got := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.svc.AllocateNext(ctx, company, 33)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			got = append(got, a.FolioNumber)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, got, n)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, num := range got {
		assert.Equal(t, int64(i+3), num)
	}
}

func TestAllocateNext_RangoAgotado(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	r, err := entity.NewAuthorizedRange(entity.RangeParams{
		ID: "r1", CompanyID: company, DocumentTypeCode: 33, FromNumber: 1, ToNumber: 20,
		AuthorizedAt: now, ExpiresAt: now.AddDate(0, 6, 0),
	})
	require.NoError(t, err)
	r.CurrentNumber = 20
	require.NoError(t, f.ranges.Create(ctx, r))

	for i := 0; i < 2; i++ {
		_, err = f.svc.AllocateNext(ctx, company, 33)
		assert.ErrorIs(t, err, domain.ErrRangeExhausted)
	}
	stored, err := f.ranges.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), stored.CurrentNumber)
	assert.Empty(t, f.events.FolioAlerts())
}

func TestAllocateNext_AgotaYDesactiva(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 1, To: 2}), company)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.svc.AllocateNext(ctx, company, 33)
		require.NoError(t, err)
	}
	_, err = f.svc.AllocateNext(ctx, company, 33)
	assert.ErrorIs(t, err, domain.ErrRangeExhausted)

	r, err := f.svc.GetRange(ctx, res.Range.ID)
	require.NoError(t, err)
	assert.False(t, r.Active)
}

func TestAllocateNext_SinRango(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AllocateNext(context.Background(), company, 33)
	assert.ErrorIs(t, err, domain.ErrNoActiveRange)

	_, err = f.svc.AllocateNext(context.Background(), company, 99)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAllocateNext_RangoVencido(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 1, To: 20}), company)
	require.NoError(t, err)

	f.svc.WithClock(func() time.Time { return time.Now().AddDate(1, 0, 0) })
	_, err = f.svc.AllocateNext(ctx, company, 33)
	assert.ErrorIs(t, err, domain.ErrRangeExpired)
}

func TestRetireRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 1, To: 20}), company)
	require.NoError(t, err)

	require.NoError(t, f.svc.RetireRange(ctx, res.Range.ID))
	_, err = f.svc.AllocateNext(ctx, company, 33)
	assert.ErrorIs(t, err, domain.ErrNoActiveRange)

	list, err := f.svc.ListRanges(ctx, company, 33)
	require.NoError(t, err)
	require.Len(t, list, 1, "un rango retirado nunca se elimina")

	assert.ErrorIs(t, f.svc.RetireRange(ctx, "no-existe"), domain.ErrNotFound)
}

func TestImportRange_ReimportarNoReutilizaFolios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 1, To: 20}), company)
	require.NoError(t, err)
	require.NoError(t, f.svc.RetireRange(ctx, res.Range.ID))
	f.docs.folios = []int64{1, 2, 3, 4, 5}

	again, err := f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 1, To: 20}), company)
	require.NoError(t, err)
	assert.Equal(t, int64(5), again.Range.CurrentNumber)

	a, err := f.svc.AllocateNext(ctx, company, 33)
	require.NoError(t, err)
	assert.Equal(t, int64(6), a.FolioNumber)
}

func TestAuditSequence_DuplicadoDetieneRango(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 1, To: 20}), company)
	require.NoError(t, err)
	f.docs.folios = []int64{1, 2, 2, 5}

	report, err := f.svc.AuditSequence(ctx, company, 33)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, report.Duplicates)
	assert.Equal(t, []dte.Gap{{From: 3, To: 4}}, report.Gaps)

	_, err = f.svc.AllocateNext(ctx, company, 33)
	assert.ErrorIs(t, err, domain.ErrSequenceIntegrity)

	alerts := f.events.FolioAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, dte.AlertCritical, alerts[0].Severity)
}

func TestAuditSequence_HuecosNoDetienen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ImportRange(ctx, grant(t, siitest.CAFOptions{From: 1, To: 20}), company)
	require.NoError(t, err)
	f.docs.folios = []int64{1, 4}

	report, err := f.svc.AuditSequence(ctx, company, 33)
	require.NoError(t, err)
	assert.False(t, report.HasDuplicates())

	_, err = f.svc.AllocateNext(ctx, company, 33)
	assert.NoError(t, err)
}

func TestRemainingAlert(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		current int64
		want    dte.AlertLevel
	}{{0, dte.AlertOK}, {49, dte.AlertOK}, {50, dte.AlertWarning}, {89, dte.AlertWarning}, {90, dte.AlertCritical}, {100, dte.AlertCritical}}
	for _, c := range cases {
		r := &entity.AuthorizedRange{FromNumber: 1, ToNumber: 100, CurrentNumber: c.current}
		assert.Equal(t, c.want, f.svc.RemainingAlert(r).Level, "current=%d", c.current)
	}
}
