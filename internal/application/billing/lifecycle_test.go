package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/application/folio"
	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/infrastructure/events"
	"github.com/jhoicas/dte-api/internal/infrastructure/memory"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/signer"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/signer/signertest"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/siitest"
	"github.com/jhoicas/dte-api/pkg/logger"
	siicat "github.com/jhoicas/dte-api/pkg/sii"
)

const (
	companyID  = "empresa-1"
	companyRUT = "76192083-9"
	clientID   = "cliente-1"
	credRef    = "firma-principal"
)

// pollRecorder registra las consultas agendadas.
type pollRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (p *pollRecorder) SchedulePoll(_ context.Context, documentID string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, documentID)
	return nil
}

func (p *pollRecorder) scheduled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

var _ ports.StatusPollScheduler = (*pollRecorder)(nil)

// flakyDocs falla MarkSubmitted las veces indicadas (caída de la base tras la respuesta del SII).
type flakyDocs struct {
	*memory.DocumentRepo
	mu          sync.Mutex
	failMarking int
}

func (d *flakyDocs) MarkSubmitted(ctx context.Context, sub *entity.AuthoritySubmission, ch entity.StateChange) error {
	d.mu.Lock()
	fail := d.failMarking > 0
	if fail {
		d.failMarking--
	}
	d.mu.Unlock()
	if fail {
		return errors.New("conexión perdida")
	}
	return d.DocumentRepo.MarkSubmitted(ctx, sub, ch)
}

type fixture struct {
	lc          *billing.Lifecycle
	ops         *billing.Operations
	folios      *folio.Service
	docs        *flakyDocs
	submissions *memory.SubmissionRepo
	events      *events.Recorder
	polls       *pollRecorder
	srv         *siitest.Server
	rangeID     string
	creds       signer.StaticCredentialStore
}

type fixtureOpts struct {
	from, to   int64
	timeout    time.Duration
	maxRetries int
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	if o.to == 0 {
		o.from, o.to = 1, 20
	}
	if o.timeout == 0 {
		o.timeout = 2 * time.Second
	}
	docs := memory.NewDocumentRepository()
	f := &fixture{
		docs:        &flakyDocs{DocumentRepo: docs},
		submissions: docs.Submissions(),
		events:      events.NewRecorder(),
		polls:       &pollRecorder{},
		srv:         siitest.NewServer(),
	}
	t.Cleanup(f.srv.Close)

	companies := memory.NewCompanyStore()
	companies.PutCompany(&entity.Company{
		ID: companyID, RUT: companyRUT, BusinessName: "EMPRESA DE PRUEBA SPA", Activity: "VENTA AL POR MENOR",
		ActivityCode: 523930, Address: "Av. Siempre Viva 123", Commune: "Santiago", City: "Santiago",
		ResolutionNumber: 80, ResolutionDate: "2014-08-22",
	})
	customers := memory.NewCustomerStore()
	customers.PutCustomer(&entity.Customer{
		ID: clientID, CompanyID: companyID, RUT: "12345678-5", BusinessName: "CLIENTE LTDA",
		Activity: "SERVICIOS", Address: "Calle Uno 1", Commune: "Providencia", City: "Santiago",
	})

	f.folios = folio.NewService(memory.NewRangeRepository(), f.docs, f.events, nil, logger.Nop())
	raw, err := siitest.NewCAF(siitest.CAFOptions{IssuerRUT: companyRUT, DocType: 33, From: o.from, To: o.to})
	require.NoError(t, err)
	imp, err := f.folios.ImportRange(context.Background(), raw, companyID)
	require.NoError(t, err)
	f.rangeID = imp.Range.ID

	cred, err := signertest.NewCredential(signertest.Options{})
	require.NoError(t, err)
	f.creds = signer.StaticCredentialStore{credRef: cred}

	policy := sii.DefaultRetryPolicy(o.maxRetries)
	policy.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	gw, err := sii.NewGateway(sii.GatewayConfig{
		Environment: siicat.EnvCertification,
		BaseURL:     f.srv.URL,
		Timeout:     o.timeout,
		MaxRetries:  o.maxRetries,
		Retry:       &policy,
	}, sii.StaticToken("TKN"), nil, nil, logger.Nop())
	require.NoError(t, err)

	f.lc, err = billing.NewLifecycle(billing.Deps{
		Folios:      f.folios,
		Documents:   f.docs,
		Submissions: f.submissions,
		Companies:   companies,
		Customers:   customers,
		Builder:     sii.NewXMLBuilderService(),
		Signer:      signer.NewService(logger.Nop(), nil),
		Credentials: f.creds,
		Gateway:     gw,
		Events:      f.events,
		Scheduler:   f.polls,
		Log:         logger.Nop(),
	})
	require.NoError(t, err)
	f.ops = billing.NewOperations(f.lc, f.folios)
	return f
}

func draftInput() billing.CreateDocumentInput {
	return billing.CreateDocumentInput{
		CompanyID:        companyID,
		ClientID:         clientID,
		DocumentTypeCode: 33,
		Items: []billing.ItemInput{
			{Description: "Servicio de instalación", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(10000), TaxClassification: siicat.TaxAfecto},
			{Description: "Libro", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(3000), TaxClassification: siicat.TaxExento},
		},
	}
}

func (f *fixture) signedDocument(t *testing.T) *entity.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := f.lc.CreateDraftDocument(ctx, draftInput())
	require.NoError(t, err)
	out, err := f.lc.ValidateAndSign(ctx, doc.ID, credRef)
	require.NoError(t, err)
	return out.Document
}

func statuses(changes []ports.DocumentStateChanged, docID string) []entity.DocumentStatus {
	var out []entity.DocumentStatus
	for _, c := range changes {
		if c.DocumentID == docID {
			out = append(out, c.NewStatus)
		}
	}
	return out
}

func TestNewLifecycle_FaltanDependencias(t *testing.T) {
	_, err := billing.NewLifecycle(billing.Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Folios")
	assert.Contains(t, err.Error(), "Gateway")
}

func TestLifecycle_FlujoCompletoAceptado(t *testing.T) {
	f := newFixture(t, fixtureOpts{maxRetries: 3})
	f.srv.On(siitest.OpUpload, siitest.UploadOK("TRK-1"))
	f.srv.On(siitest.OpStatus, siitest.Status("EPR", "Envio Procesado"))
	ctx := context.Background()

	doc, err := f.lc.CreateDraftDocument(ctx, draftInput())
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.FolioNumber)
	assert.Equal(t, entity.StatusDraft, doc.Status)
	assert.True(t, doc.NetAmount.Equal(decimal.NewFromInt(20000)))
	assert.True(t, doc.TotalAmount.Equal(decimal.NewFromInt(26800)))

	signed, err := f.lc.ValidateAndSign(ctx, doc.ID, credRef)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSigned, signed.Document.Status)
	assert.NotEmpty(t, signed.Document.UnsignedPayload)
	v, err := signer.Verify([]byte(signed.Document.SignedPayload))
	require.NoError(t, err)
	assert.True(t, v.Valid, v.Reason)
	require.NoError(t, sii.VerifyTimbre([]byte(signed.Document.SignedPayload)))

	sent, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "TRK-1", sent.TrackingID)
	assert.Equal(t, entity.StatusSent, sent.Document.Status)
	assert.Equal(t, []string{doc.ID}, f.polls.scheduled())

	st, err := f.lc.PollStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, st.Resolved)
	assert.Equal(t, entity.StatusAccepted, st.Document.Status)
	assert.Equal(t, "EPR", st.Document.AuthorityStatus)

	sub, err := f.submissions.GetByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "TRK-1", sub.TrackingID)
	assert.Equal(t, "EPR", sub.AuthorityStatusCode)

	assert.Equal(t,
		[]entity.DocumentStatus{entity.StatusDraft, entity.StatusSigned, entity.StatusSent, entity.StatusAccepted},
		statuses(f.events.StateChanges(), doc.ID))
}

func TestLifecycle_RangoAgotadoNoCreaDocumento(t *testing.T) {
	f := newFixture(t, fixtureOpts{from: 1, to: 2})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.lc.CreateDraftDocument(ctx, draftInput())
		require.NoError(t, err)
	}

	_, err := f.lc.CreateDraftDocument(ctx, draftInput())
	require.ErrorIs(t, err, domain.ErrRangeExhausted)

	issued, err := f.docs.ListFolios(ctx, companyID, 33)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, issued)
}

func TestLifecycle_LineaInvalidaNoConsumeFolio(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	in := draftInput()
	in.Items[0].Quantity = decimal.Zero

	_, err := f.lc.CreateDraftDocument(ctx, in)
	require.ErrorIs(t, err, domain.ErrValidation)

	rg, err := f.folios.GetRange(ctx, f.rangeID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rg.CurrentNumber)
}

func TestLifecycle_TimeoutAgotaReintentosYQuedaFirmado(t *testing.T) {
	f := newFixture(t, fixtureOpts{maxRetries: 3, timeout: 50 * time.Millisecond})
	f.srv.On(siitest.OpUpload, siitest.Slow(time.Second, siitest.UploadOK("TRK-TARDE")))
	ctx := context.Background()
	doc := f.signedDocument(t)

	_, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, 4, f.srv.Count(siitest.OpUpload))

	got, err := f.lc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSigned, got.Status)
	assert.Empty(t, got.AuthorityTrackingID)
	sub, err := f.submissions.GetByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.Empty(t, f.polls.scheduled())
}

func TestLifecycle_ReintentoTrasFalloDeTransporte(t *testing.T) {
	f := newFixture(t, fixtureOpts{maxRetries: 0})
	f.srv.On(siitest.OpUpload, siitest.HTTPError(503), siitest.UploadOK("TRK-2"))
	ctx := context.Background()
	doc := f.signedDocument(t)

	_, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.ErrorIs(t, err, domain.ErrTransport)

	out, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "TRK-2", out.TrackingID)
	assert.False(t, out.AlreadySubmitted)
}

func TestLifecycle_FirmaYEnvioIdempotentes(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.srv.On(siitest.OpUpload, siitest.UploadOK("TRK-1"), siitest.UploadOK("TRK-2"))
	ctx := context.Background()
	doc := f.signedDocument(t)

	again, err := f.lc.ValidateAndSign(ctx, doc.ID, credRef)
	require.NoError(t, err)
	assert.True(t, again.AlreadySigned)
	assert.Equal(t, doc.SignedPayload, again.Document.SignedPayload)

	first, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.NoError(t, err)
	second, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.NoError(t, err)

	assert.True(t, second.AlreadySubmitted)
	assert.Equal(t, first.TrackingID, second.TrackingID)
	assert.Equal(t, 1, f.srv.Count(siitest.OpUpload))
}

func TestLifecycle_EnviosConcurrentesSubenUnaVez(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.srv.On(siitest.OpUpload, siitest.UploadOK("TRK-1"))
	doc := f.signedDocument(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.lc.SubmitToAuthority(context.Background(), doc.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.srv.Count(siitest.OpUpload))
}

func TestLifecycle_RespuestaSinTrackIDQuedaFirmado(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.srv.On(siitest.OpUpload, siitest.UploadWithoutTrackID(), siitest.UploadOK("TRK-2"))
	ctx := context.Background()
	doc := f.signedDocument(t)

	_, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.ErrorIs(t, err, domain.ErrUnconfirmedSubmission)

	got, err := f.lc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSigned, got.Status)
	assert.Empty(t, got.AuthorityTrackingID)

	out, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "TRK-2", out.TrackingID)
	assert.Equal(t, entity.StatusSent, out.Document.Status)
}

func TestLifecycle_RechazoExplicitoDelUpload(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.srv.On(siitest.OpUpload, siitest.UploadStatus("5"))
	ctx := context.Background()
	doc := f.signedDocument(t)

	_, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.ErrorIs(t, err, domain.ErrAuthorityBusiness)

	got, err := f.lc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, got.Status)
	assert.NotEmpty(t, got.StatusReason)
}

func TestLifecycle_EnvioNoGuardadoNoSeReenvia(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.srv.On(siitest.OpUpload, siitest.UploadOK("TRK-1"))
	f.docs.failMarking = 1
	ctx := context.Background()
	doc := f.signedDocument(t)

	_, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRK-1")

	got, err := f.lc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSigned, got.Status)
	prev, err := f.submissions.GetByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, prev, "el envío y el estado se guardan juntos")

	out, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, out.AlreadySubmitted)
	assert.Equal(t, "TRK-1", out.TrackingID)
	assert.Equal(t, entity.StatusSent, out.Document.Status)
	assert.Equal(t, 1, f.srv.Count(siitest.OpUpload))
	assert.Equal(t, []string{doc.ID}, f.polls.scheduled())
}

func TestLifecycle_EnvioRegistradoCompletaTransicion(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.srv.On(siitest.OpStatus, siitest.Status("EPR", "Envio Procesado"))
	ctx := context.Background()
	doc := f.signedDocument(t)
	require.NoError(t, f.submissions.Create(ctx, &entity.AuthoritySubmission{
		ID: "sub-1", DocumentID: doc.ID, CompanyID: companyID, TrackingID: "TRK-9",
		Environment: siicat.EnvCertification, SubmittedAt: time.Now(),
	}))

	out, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, out.AlreadySubmitted)
	assert.Equal(t, entity.StatusSent, out.Document.Status)
	assert.Equal(t, "TRK-9", out.Document.AuthorityTrackingID)
	assert.Equal(t, 0, f.srv.Count(siitest.OpUpload))

	polled, err := f.lc.PollStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAccepted, polled.Document.Status)
}

func TestLifecycle_FolioDuplicadoDetieneRango(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	require.NoError(t, f.docs.Create(ctx, &entity.Document{
		ID: "externo", CompanyID: companyID, ClientID: clientID, DocumentTypeCode: 33,
		FolioNumber: 1, Status: entity.StatusDraft,
	}))

	_, err := f.lc.CreateDraftDocument(ctx, draftInput())
	require.ErrorIs(t, err, domain.ErrSequenceIntegrity)

	rg, err := f.folios.GetRange(ctx, f.rangeID)
	require.NoError(t, err)
	assert.True(t, rg.Halted)

	var critical int
	for _, a := range f.events.FolioAlerts() {
		if a.Severity == dte.AlertCritical {
			critical++
		}
	}
	assert.Equal(t, 1, critical)

	_, err = f.lc.CreateDraftDocument(ctx, draftInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSequenceIntegrity)
}

func TestLifecycle_CredencialVencidaQuedaEnBorrador(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	expired, err := signertest.NewCredential(signertest.Options{
		NotBefore: time.Now().AddDate(-2, 0, 0),
		NotAfter:  time.Now().AddDate(-1, 0, 0),
	})
	require.NoError(t, err)
	f.creds["vencida"] = expired
	ctx := context.Background()
	doc, err := f.lc.CreateDraftDocument(ctx, draftInput())
	require.NoError(t, err)

	_, err = f.lc.ValidateAndSign(ctx, doc.ID, "vencida")
	require.ErrorIs(t, err, domain.ErrCredentialExpired)

	got, err := f.lc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDraft, got.Status)
	assert.Empty(t, got.SignedPayload)
}

func TestLifecycle_CredencialPorVencerEmiteEvento(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	soon, err := signertest.NewCredential(signertest.Options{NotAfter: time.Now().AddDate(0, 0, 10)})
	require.NoError(t, err)
	f.creds["por-vencer"] = soon
	ctx := context.Background()
	doc, err := f.lc.CreateDraftDocument(ctx, draftInput())
	require.NoError(t, err)

	out, err := f.lc.ValidateAndSign(ctx, doc.ID, "por-vencer")
	require.NoError(t, err)
	assert.NotEmpty(t, out.Warnings)

	var found bool
	for _, ev := range f.events.Events() {
		if ce, ok := ev.(ports.CredentialExpiring); ok {
			found = true
			assert.Equal(t, "por-vencer", ce.CredentialRef)
		}
	}
	assert.True(t, found)
}

func TestLifecycle_AnularFirmadoYBloquearEnvio(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	doc := f.signedDocument(t)

	voided, err := f.lc.VoidDocument(ctx, doc.ID, "error de digitación")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusVoided, voided.Status)
	assert.Equal(t, "error de digitación", voided.StatusReason)

	_, err = f.lc.SubmitToAuthority(ctx, doc.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.lc.VoidDocument(ctx, doc.ID, "otra vez")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLifecycle_RechazoManualEsTerminal(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	doc := f.signedDocument(t)

	rejected, err := f.lc.RejectDocument(ctx, doc.ID, "monto mal informado")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, rejected.Status)
	assert.Equal(t, doc.FolioNumber, rejected.FolioNumber)

	_, err = f.lc.VoidDocument(ctx, doc.ID, "anular")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.lc.RejectDocument(ctx, "no-existe", "x")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLifecycle_AnularRequiereMotivo(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	doc := f.signedDocument(t)
	_, err := f.lc.VoidDocument(context.Background(), doc.ID, "  ")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestLifecycle_EnviadoNoSeAnula(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.srv.On(siitest.OpUpload, siitest.UploadOK("TRK-1"))
	ctx := context.Background()
	doc := f.signedDocument(t)
	_, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.NoError(t, err)

	_, err = f.lc.VoidDocument(ctx, doc.ID, "tarde")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLifecycle_CallbackRechazo(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.srv.On(siitest.OpUpload, siitest.UploadOK("TRK-9"))
	ctx := context.Background()
	doc := f.signedDocument(t)
	_, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.NoError(t, err)

	out, err := f.lc.HandleAuthorityCallback(ctx, "TRK-9", "RCH", "DTE rechazado")
	require.NoError(t, err)
	assert.True(t, out.Resolved)
	assert.Equal(t, entity.StatusRejected, out.Document.Status)
	assert.Contains(t, out.Document.StatusReason, "RCH")

	// Un segundo callback no cambia el estado final.
	again, err := f.lc.HandleAuthorityCallback(ctx, "TRK-9", "EPR", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, again.Document.Status)
}

func TestLifecycle_CallbackTrackIDDesconocido(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, err := f.lc.HandleAuthorityCallback(context.Background(), "NOEXISTE", "EPR", "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLifecycle_PollPendienteNoResuelve(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.srv.On(siitest.OpUpload, siitest.UploadOK("TRK-1"))
	f.srv.On(siitest.OpStatus, siitest.Status("PRD", "Envio en proceso"))
	ctx := context.Background()
	doc := f.signedDocument(t)
	_, err := f.lc.SubmitToAuthority(ctx, doc.ID)
	require.NoError(t, err)

	out, err := f.lc.PollStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, out.Resolved)
	assert.Equal(t, entity.StatusSent, out.Document.Status)
}

func TestLifecycle_PollPending(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.srv.On(siitest.OpUpload, siitest.UploadOK("TRK-1"), siitest.UploadOK("TRK-2"), siitest.UploadOK("TRK-3"))
	f.srv.On(siitest.OpStatus, siitest.Status("EPR", "Envio Procesado"))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		doc := f.signedDocument(t)
		_, err := f.lc.SubmitToAuthority(ctx, doc.ID)
		require.NoError(t, err)
	}

	sum, err := f.lc.PollPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, billing.PollSummary{Checked: 3, Resolved: 3}, sum)

	pending, err := f.docs.ListByStatus(ctx, entity.StatusSent, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLifecycle_FetchAcknowledgment(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.srv.On(siitest.OpUpload, siitest.UploadOK("TRK-1"))
	f.srv.On(siitest.OpStatus, siitest.Status("EPR", "Envio Procesado"))
	f.srv.On(siitest.OpAck, siitest.Ack("<RecepcionEnvio><TrackId>TRK-1</TrackId></RecepcionEnvio>"))
	ctx := context.Background()
	doc := f.signedDocument(t)

	_, err := f.lc.FetchAcknowledgment(ctx, doc.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.lc.SubmitToAuthority(ctx, doc.ID)
	require.NoError(t, err)
	_, err = f.lc.PollStatus(ctx, doc.ID)
	require.NoError(t, err)

	ack, err := f.lc.FetchAcknowledgment(ctx, doc.ID)
	require.NoError(t, err)
	assert.Contains(t, ack.Raw, "TRK-1")

	sub, err := f.submissions.GetByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Contains(t, sub.RawAcknowledgment, "TRK-1")
	assert.NotNil(t, sub.AcknowledgedAt)
}

func TestOperations_ResultadosConErrores(t *testing.T) {
	f := newFixture(t, fixtureOpts{from: 1, to: 2})
	ctx := context.Background()

	res := f.ops.AllocateNextFolio(ctx, companyID, 33)
	require.True(t, res.OK)
	assert.Equal(t, int64(1), res.FolioNumber)
	assert.Equal(t, int64(1), res.Remaining)

	res = f.ops.AllocateNextFolio(ctx, companyID, 33)
	require.True(t, res.OK)
	res = f.ops.AllocateNextFolio(ctx, companyID, 33)
	assert.False(t, res.OK)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, domain.KindRangeExhausted, res.Errors[0].Kind)

	sign := f.ops.ValidateAndSign(ctx, "no-existe", credRef)
	assert.False(t, sign.OK)
	assert.Equal(t, domain.KindNotFound, sign.Errors[0].Kind)
}
