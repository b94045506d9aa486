package billing

import (
	"context"

	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/signer"
)

// DocumentBuilder genera el XML sin firma del DTE (implementado por sii.XMLBuilderService).
type DocumentBuilder interface {
	Build(in sii.BuildInput) ([]byte, error)
}

// DocumentSigner firma con XMLDSig (implementado por signer.Service).
type DocumentSigner interface {
	ValidateCredential(c *entity.SigningCredential) signer.CertificateValidation
	Sign(ctx context.Context, xml []byte, c *entity.SigningCredential) (*signer.SignResult, error)
}

// AuthorityGateway cliente de los servicios del SII (implementado por sii.Gateway).
type AuthorityGateway interface {
	Environment() string
	Submit(ctx context.Context, signedXML []byte, id sii.SenderIdentity) (*sii.SubmitResult, error)
	QueryStatus(ctx context.Context, trackingID string, id sii.SenderIdentity) (*sii.StatusResult, error)
	FetchAcknowledgment(ctx context.Context, trackingID string, id sii.SenderIdentity) (*sii.AckResult, error)
}

var (
	_ DocumentBuilder  = (*sii.XMLBuilderService)(nil)
	_ DocumentSigner   = (*signer.Service)(nil)
	_ AuthorityGateway = (*sii.Gateway)(nil)
)
