package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"provenance/internal/audit"
	"provenance/internal/provenance/codec"
	"provenance/internal/provenance/ledger"
	"provenance/internal/provenance/ledger/mocks"
	"provenance/internal/provenance/models"
	"provenance/pkg/domain"
	dErrors "provenance/pkg/domain-errors"
)

var (
	alice = domain.MustAccount("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	bob   = domain.MustAccount("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

type fakePublisher struct {
	events []audit.Event
	err    error
}

func (f *fakePublisher) Emit(_ context.Context, e audit.Event) error {
	f.events = append(f.events, e)
	return f.err
}

// =============================================================================
// Registry Service Test Suite
// =============================================================================
// The gateway is mocked so each ledger answer can be forced, including the
// ones an in-process ledger never produces (transport failures, corrupt
// records, unknown abort reasons).

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	gateway   *mocks.MockGateway
	publisher *fakePublisher
	service   *Service
	ctx       context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.gateway = mocks.NewMockGateway(s.ctrl)
	s.publisher = &fakePublisher{}
	s.ctx = context.Background()

	var err error
	s.service, err = New(s.gateway,
		WithAuditPublisher(s.publisher),
		WithFinalityTimeout(time.Second),
		WithViewRetry(2, time.Millisecond),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) expectNonce(account domain.Account, nonce uint64) {
	s.gateway.EXPECT().
		View(gomock.Any(), ledger.Query{Kind: ledger.QueryNonce, Account: account}).
		Return(&ledger.RawResult{Nonce: nonce}, nil)
}

func (s *ServiceSuite) expectSubmit(signer domain.Account, nonce uint64, hash string) {
	s.gateway.EXPECT().
		Submit(gomock.Any(), signer, gomock.Cond(func(op ledger.Operation) bool { return op.Nonce == nonce })).
		Return(ledger.Handle{TxHash: hash}, nil)
}

func (s *ServiceSuite) expectOutcome(hash string, out ledger.Outcome) {
	s.gateway.EXPECT().
		AwaitFinality(gomock.Any(), ledger.Handle{TxHash: hash}).
		Return(out, nil)
}

func shoe() *models.Metadata {
	return &models.Metadata{Name: "Shoe"}
}

func (s *ServiceSuite) rawProduct(id domain.ProductID, owner domain.Account, history ...domain.Account) *ledger.RawResult {
	payload, err := codec.Encode(shoe())
	s.Require().NoError(err)
	return &ledger.RawResult{Product: &ledger.RawProduct{
		ID:           id,
		Manufacturer: alice,
		CurrentOwner: owner,
		Metadata:     payload,
		History:      history,
	}}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *ServiceSuite) TestNew() {
	s.Run("nil gateway returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "ledger gateway is required")
	})
}

// =============================================================================
// Mint Tests
// =============================================================================

func (s *ServiceSuite) TestMint() {
	s.Run("committed mint returns outcome and emits event", func() {
		s.expectNonce(alice, 4)
		s.gateway.EXPECT().
			Submit(gomock.Any(), alice, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ domain.Account, op ledger.Operation) (ledger.Handle, error) {
				s.Equal(ledger.OpMint, op.Kind)
				s.Equal(domain.ProductID("PROD-001"), op.ProductID)
				s.Equal(uint64(4), op.Nonce)
				decoded, err := codec.Decode(op.Metadata)
				s.Require().NoError(err)
				s.Equal("Shoe", decoded.Name)
				return ledger.Handle{TxHash: "0x01"}, nil
			})
		s.expectOutcome("0x01", ledger.Outcome{Status: ledger.StatusCommitted, TxHash: "0x01"})

		out, err := s.service.Mint(s.ctx, alice, "PROD-001", shoe())
		s.Require().NoError(err)
		s.Equal(models.TxKindMint, out.Kind)
		s.Equal(models.TxStatusCommitted, out.Status)
		s.Equal("0x01", out.TxHash)
		s.Equal(uint64(4), out.Nonce)

		s.Require().Len(s.publisher.events, 1)
		s.Equal(audit.ActionMint, s.publisher.events[0].Action)
		s.Equal(alice, s.publisher.events[0].Actor)
	})

	s.Run("second mint reuses the cached nonce", func() {
		s.expectSubmit(alice, 5, "0x02")
		s.expectOutcome("0x02", ledger.Outcome{Status: ledger.StatusCommitted})

		out, err := s.service.Mint(s.ctx, alice, "PROD-002", shoe())
		s.Require().NoError(err)
		s.Equal("0x02", out.TxHash, "falls back to the handle hash")
	})

	s.Run("duplicate id maps to AlreadyExists", func() {
		s.expectSubmit(alice, 6, "0x03")
		s.expectOutcome("0x03", ledger.Outcome{Status: ledger.StatusAborted, Reason: ledger.AbortAlreadyExists})

		_, err := s.service.Mint(s.ctx, alice, "PROD-001", shoe())
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	})

	s.Run("invalid metadata never reaches the ledger", func() {
		_, err := s.service.Mint(s.ctx, alice, "PROD-003", &models.Metadata{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("invalid id never reaches the ledger", func() {
		_, err := s.service.Mint(s.ctx, alice, "", shoe())
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing signer is unauthorized", func() {
		_, err := s.service.Mint(s.ctx, "", "PROD-003", shoe())
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("malformed signer is unauthorized", func() {
		_, err := s.service.Mint(s.ctx, "0xnot-an-address", "PROD-003", shoe())
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestSignerCaseIsNormalized() {
	lowerAlice := domain.Account("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")

	s.Run("mint submits as the checksummed account", func() {
		s.expectNonce(alice, 0)
		s.gateway.EXPECT().
			Submit(gomock.Any(), alice, gomock.Any()).
			Return(ledger.Handle{TxHash: "0x10"}, nil)
		s.expectOutcome("0x10", ledger.Outcome{Status: ledger.StatusCommitted, TxHash: "0x10"})

		out, err := s.service.Mint(s.ctx, lowerAlice, "PROD-001", shoe())
		s.Require().NoError(err)
		s.Require().Len(s.publisher.events, 1)
		s.Equal(alice, s.publisher.events[0].Actor)
		s.Equal(alice, out.Signer)
	})

	s.Run("transfer to self is caught whatever the signer case", func() {
		_, err := s.service.Transfer(s.ctx, lowerAlice, "PROD-001", alice.String())
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransfer))
	})

	s.Run("transfer submits as the checksummed account", func() {
		s.expectSubmit(alice, 1, "0x11")
		s.expectOutcome("0x11", ledger.Outcome{Status: ledger.StatusCommitted, TxHash: "0x11"})

		_, err := s.service.Transfer(s.ctx, lowerAlice, "PROD-001", bob.String())
		s.Require().NoError(err)
	})
}

func (s *ServiceSuite) TestMintSubmissionRejected() {
	s.expectNonce(alice, 0)
	s.gateway.EXPECT().
		Submit(gomock.Any(), alice, gomock.Any()).
		Return(ledger.Handle{}, ledger.ErrBadNonce)

	_, err := s.service.Mint(s.ctx, alice, "PROD-001", shoe())
	s.True(dErrors.HasCode(err, dErrors.CodeSubmissionRejected))
	s.False(dErrors.HasCode(err, dErrors.CodeNotOwner))

	s.Run("next call resyncs the nonce from the ledger", func() {
		s.expectNonce(alice, 3)
		s.expectSubmit(alice, 3, "0x10")
		s.expectOutcome("0x10", ledger.Outcome{Status: ledger.StatusCommitted, TxHash: "0x10"})

		out, err := s.service.Mint(s.ctx, alice, "PROD-001", shoe())
		s.Require().NoError(err)
		s.Equal(uint64(3), out.Nonce)
	})
}

func (s *ServiceSuite) TestMintTimeout() {
	s.expectNonce(alice, 0)
	s.expectSubmit(alice, 0, "0xaa")
	s.gateway.EXPECT().
		AwaitFinality(gomock.Any(), ledger.Handle{TxHash: "0xaa"}).
		DoAndReturn(func(ctx context.Context, h ledger.Handle) (ledger.Outcome, error) {
			_, hasDeadline := ctx.Deadline()
			s.True(hasDeadline, "finality wait must be bounded")
			return ledger.Outcome{Status: ledger.StatusTimedOut, TxHash: h.TxHash}, nil
		})

	_, err := s.service.Mint(s.ctx, alice, "PROD-001", shoe())
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	var pending *PendingError
	s.Require().True(errors.As(err, &pending))
	s.Equal("0xaa", pending.TxHash)
	s.Empty(s.publisher.events)

	s.Run("timed out nonce stays consumed and the mint is not resubmitted", func() {
		s.expectSubmit(alice, 1, "0xab")
		s.expectOutcome("0xab", ledger.Outcome{Status: ledger.StatusCommitted})

		_, err := s.service.Mint(s.ctx, alice, "PROD-002", shoe())
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestSubmitTransportFailureIsNotRetried() {
	s.expectNonce(alice, 0)
	s.gateway.EXPECT().
		Submit(gomock.Any(), alice, gomock.Any()).
		Return(ledger.Handle{}, errors.New("connection reset")).
		Times(1)

	_, err := s.service.Mint(s.ctx, alice, "PROD-001", shoe())
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ServiceSuite) TestUnknownAbortReason() {
	s.expectNonce(alice, 0)
	s.expectSubmit(alice, 0, "0x01")
	s.expectOutcome("0x01", ledger.Outcome{Status: ledger.StatusAborted, Reason: "out_of_gas"})

	_, err := s.service.Mint(s.ctx, alice, "PROD-001", shoe())
	s.True(dErrors.HasCode(err, dErrors.CodeAborted))
}

// =============================================================================
// Transfer Tests
// =============================================================================

func (s *ServiceSuite) TestTransfer() {
	s.Run("committed transfer carries the new owner", func() {
		s.expectNonce(alice, 1)
		s.gateway.EXPECT().
			Submit(gomock.Any(), alice, ledger.Operation{Kind: ledger.OpTransfer, ProductID: "PROD-001", NewOwner: bob, Nonce: 1}).
			Return(ledger.Handle{TxHash: "0x02"}, nil)
		s.expectOutcome("0x02", ledger.Outcome{Status: ledger.StatusCommitted, TxHash: "0x02"})

		out, err := s.service.Transfer(s.ctx, alice, "PROD-001", bob.String())
		s.Require().NoError(err)
		s.Equal(bob, out.NewOwner)
		s.Equal(models.TxKindTransfer, out.Kind)
		s.Require().Len(s.publisher.events, 1)
		s.Equal(audit.ActionTransfer, s.publisher.events[0].Action)
		s.Equal(bob, s.publisher.events[0].NewOwner)
	})

	s.Run("ledger authorization failure maps to NotOwner", func() {
		s.expectSubmit(alice, 2, "0x03")
		s.expectOutcome("0x03", ledger.Outcome{Status: ledger.StatusAborted, Reason: ledger.AbortNotOwner})

		_, err := s.service.Transfer(s.ctx, alice, "PROD-001", bob.String())
		s.True(dErrors.HasCode(err, dErrors.CodeNotOwner))
	})

	s.Run("unknown product maps to NotFound", func() {
		s.expectSubmit(alice, 3, "0x04")
		s.expectOutcome("0x04", ledger.Outcome{Status: ledger.StatusAborted, Reason: ledger.AbortNotFound})

		_, err := s.service.Transfer(s.ctx, alice, "missing", bob.String())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("self transfer is invalid", func() {
		_, err := s.service.Transfer(s.ctx, alice, "PROD-001", alice.String())
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransfer))
	})

	s.Run("self transfer in a different case is invalid", func() {
		_, err := s.service.Transfer(s.ctx, alice, "PROD-001", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransfer))
	})

	s.Run("malformed new owner is invalid", func() {
		_, err := s.service.Transfer(s.ctx, alice, "PROD-001", "bob")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransfer))
	})
}

func (s *ServiceSuite) TestTransferPrecheckIsAdvisory() {
	svc, err := New(s.gateway, WithOwnershipPrecheck(true), WithViewRetry(0, time.Millisecond))
	s.Require().NoError(err)

	s.gateway.EXPECT().
		View(gomock.Any(), ledger.Query{Kind: ledger.QueryProduct, ProductID: "PROD-001"}).
		Return(s.rawProduct("PROD-001", bob, bob), nil)
	s.expectNonce(alice, 0)
	s.expectSubmit(alice, 0, "0x05")
	s.expectOutcome("0x05", ledger.Outcome{Status: ledger.StatusAborted, Reason: ledger.AbortNotOwner})

	_, err = svc.Transfer(s.ctx, alice, "PROD-001", bob.String())
	s.True(dErrors.HasCode(err, dErrors.CodeNotOwner), "ledger decides even when the pre-check already disagrees")
}

// =============================================================================
// Query Tests
// =============================================================================

func (s *ServiceSuite) TestQuery() {
	productQuery := ledger.Query{Kind: ledger.QueryProduct, ProductID: "PROD-001"}

	s.Run("decodes the ledger record", func() {
		s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(s.rawProduct("PROD-001", bob, bob), nil)

		p, err := s.service.Query(s.ctx, "PROD-001")
		s.Require().NoError(err)
		s.Equal(alice, p.Manufacturer)
		s.Equal(bob, p.CurrentOwner)
		s.Equal([]domain.Account{bob}, p.History)
		s.Equal("Shoe", p.Metadata.Name)
		s.Nil(p.Metadata.ContentLink)
	})

	s.Run("not found", func() {
		s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(nil, ledger.ErrNotFound).Times(1)

		_, err := s.service.Query(s.ctx, "PROD-001")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("transient failures are retried", func() {
		gomock.InOrder(
			s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(nil, ledger.ErrUnavailable),
			s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(nil, ledger.ErrUnavailable),
			s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(s.rawProduct("PROD-001", alice), nil),
		)

		p, err := s.service.Query(s.ctx, "PROD-001")
		s.Require().NoError(err)
		s.Equal(alice, p.CurrentOwner)
	})

	s.Run("retries are bounded", func() {
		s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(nil, ledger.ErrUnavailable).Times(3)

		_, err := s.service.Query(s.ctx, "PROD-001")
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	s.Run("undecodable metadata is MalformedMetadata", func() {
		raw := s.rawProduct("PROD-001", alice)
		raw.Product.Metadata = []byte{0x08, 0x09}
		s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(raw, nil)

		_, err := s.service.Query(s.ctx, "PROD-001")
		s.True(dErrors.HasCode(err, dErrors.CodeMalformedMetadata))
		s.False(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("owner that disagrees with history is MalformedMetadata", func() {
		s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(s.rawProduct("PROD-001", alice, bob), nil)

		_, err := s.service.Query(s.ctx, "PROD-001")
		s.True(dErrors.HasCode(err, dErrors.CodeMalformedMetadata))
	})

	s.Run("callers get independent copies", func() {
		s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(s.rawProduct("PROD-001", bob, bob), nil)

		p, err := s.service.Query(s.ctx, "PROD-001")
		s.Require().NoError(err)
		p.History[0] = alice

		s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(s.rawProduct("PROD-001", bob, bob), nil)
		again, err := s.service.Query(s.ctx, "PROD-001")
		s.Require().NoError(err)
		s.Equal(bob, again.History[0])
	})
}

func (s *ServiceSuite) TestQuerySharedReadOutlivesCancelledCaller() {
	productQuery := ledger.Query{Kind: ledger.QueryProduct, ProductID: "PROD-001"}
	started := make(chan struct{})
	release := make(chan struct{})
	s.gateway.EXPECT().
		View(gomock.Any(), productQuery).
		DoAndReturn(func(ctx context.Context, _ ledger.Query) (*ledger.RawResult, error) {
			close(started)
			select {
			case <-release:
				return s.rawProduct("PROD-001", alice), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}).
		Times(1)

	firstCtx, cancelFirst := context.WithCancel(s.ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.service.Query(firstCtx, "PROD-001")
		firstErr <- err
	}()
	<-started
	cancelFirst()
	s.True(dErrors.HasCode(<-firstErr, dErrors.CodeTimeout))

	type result struct {
		product *models.Product
		err     error
	}
	second := make(chan result, 1)
	go func() {
		p, err := s.service.Query(s.ctx, "PROD-001")
		second <- result{p, err}
	}()
	// Give the second caller time to join the in-flight read.
	time.Sleep(50 * time.Millisecond)
	close(release)

	got := <-second
	s.Require().NoError(got.err)
	s.Equal(alice, got.product.CurrentOwner)
}

func (s *ServiceSuite) TestQuerySharedReadIsBounded() {
	svc, err := New(s.gateway, WithReadTimeout(20*time.Millisecond), WithViewRetry(0, time.Millisecond))
	s.Require().NoError(err)
	s.gateway.EXPECT().
		View(gomock.Any(), ledger.Query{Kind: ledger.QueryProduct, ProductID: "PROD-001"}).
		DoAndReturn(func(ctx context.Context, _ ledger.Query) (*ledger.RawResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	_, err = svc.Query(s.ctx, "PROD-001")
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
}

func (s *ServiceSuite) TestNonceLoadFailure() {
	s.gateway.EXPECT().
		View(gomock.Any(), ledger.Query{Kind: ledger.QueryNonce, Account: alice}).
		Return(nil, ledger.ErrUnavailable).
		Times(3)

	_, err := s.service.Mint(s.ctx, alice, "PROD-001", shoe())
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

// =============================================================================
// ConfirmMint Tests
// =============================================================================

func (s *ServiceSuite) TestConfirmMint() {
	productQuery := ledger.Query{Kind: ledger.QueryProduct, ProductID: "PROD-001"}

	s.Run("committed for this manufacturer", func() {
		s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(s.rawProduct("PROD-001", alice), nil)
		ok, err := s.service.ConfirmMint(s.ctx, alice, "PROD-001")
		s.NoError(err)
		s.True(ok)
	})

	s.Run("absent", func() {
		s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(nil, ledger.ErrNotFound)
		ok, err := s.service.ConfirmMint(s.ctx, alice, "PROD-001")
		s.NoError(err)
		s.False(ok)
	})

	s.Run("minted by someone else", func() {
		s.gateway.EXPECT().View(gomock.Any(), productQuery).Return(s.rawProduct("PROD-001", alice), nil)
		ok, err := s.service.ConfirmMint(s.ctx, bob, "PROD-001")
		s.False(ok)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	})
}
