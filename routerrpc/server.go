package routerrpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	decodepay "github.com/fiatjaf/ln-decodepay"

	"github.com/lnrouter/routerd/lntypes"
	"github.com/lnrouter/routerd/lnwire"
	"github.com/lnrouter/routerd/monitoring"
	"github.com/lnrouter/routerd/routing"
	"github.com/lnrouter/routerd/routing/route"
)

// PaymentRequest asks the router to fulfil a serialized payment request
// within the given budgets.
type PaymentRequest struct {
	// PayReq is the bech32 serialized payment request to fulfil. A
	// leading lightning: URI prefix is tolerated.
	PayReq string

	// FeeLimitSat is the maximum routing fee in satoshis the payment may
	// incur across all hops.
	FeeLimitSat btcutil.Amount

	// CltvLimit is the maximum total time lock the payment may
	// accumulate. Zero means unconstrained.
	CltvLimit uint32

	// TimeoutSeconds is the wall clock budget of the attempt loop.
	TimeoutSeconds int64

	// OutgoingChannelID optionally pins the first hop of every attempted
	// route. Zero means unconstrained.
	OutgoingChannelID uint64
}

// PaymentResponse reports the terminal outcome of a payment. PaymentErr is
// empty exactly when the payment settled and Preimage holds its proof.
type PaymentResponse struct {
	PayHash    lntypes.Hash
	Preimage   lntypes.Preimage
	PaymentErr string
}

// RouteFeeRequest asks for a routing cost lower bound towards a destination.
type RouteFeeRequest struct {
	Dest   route.Vertex
	AmtSat btcutil.Amount
}

// RouteFeeResponse carries the estimated cost of a payment. TimeLockDelay
// excludes the destination's own final hop delta.
type RouteFeeResponse struct {
	RoutingFeeMsat lnwire.MilliSatoshi
	TimeLockDelay  uint32
}

// SendToRouteRequest dispatches one attempt over a caller supplied route.
type SendToRouteRequest struct {
	PaymentHash lntypes.Hash
	Route       *route.Route
}

// SendToRouteResponse carries the outcome of a single-shot dispatch. Exactly
// one of Preimage and Failure is set.
type SendToRouteResponse struct {
	Preimage lntypes.Preimage
	Failure  *lnwire.Failure
}

// Server exposes the router's operations as a unary, transport agnostic
// service. Client constraint violations and duplicate in-flight hashes are
// returned as errors; routing outcomes of an accepted payment are reported
// in the response itself.
type Server struct {
	cfg *Config
}

// NewServer creates a router RPC server backed by the given dispatcher.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Router == nil {
		return nil, errors.New("router rpc server requires a router")
	}
	if cfg.Clock == nil {
		return nil, errors.New("router rpc server requires a clock")
	}

	return &Server{cfg: cfg}, nil
}

// SendPayment decodes the payment request, validates the caller's budgets
// and blocks until the payment reaches a terminal state.
func (s *Server) SendPayment(ctx context.Context,
	req *PaymentRequest) (*PaymentResponse, error) {

	payment, err := s.extractPayment(req)
	if err != nil {
		return nil, err
	}

	log.Debugf("Received payment request for %v: amt=%v",
		payment.PaymentHash, payment.Amount)

	monitoring.PaymentInitiated()

	preimage, err := s.cfg.Router.SendPayment(ctx, payment)
	switch {
	case err == nil:
		monitoring.PaymentSucceeded()

		return &PaymentResponse{
			PayHash:  payment.PaymentHash,
			Preimage: preimage,
		}, nil

	// Requests rejected before any attempt surface as plain errors, the
	// unary contract reserves PaymentErr for routing outcomes.
	case errors.Is(err, routing.ErrClientConstraint),
		errors.Is(err, routing.ErrPaymentInFlight),
		errors.Is(err, routing.ErrRouterShuttingDown):

		return nil, err

	case errors.Is(err, routing.ErrPaymentTimeout):
		monitoring.PaymentTimedOut()

	default:
		monitoring.PaymentFailed()
	}

	return &PaymentResponse{
		PayHash:    payment.PaymentHash,
		PaymentErr: err.Error(),
	}, nil
}

// EstimateRouteFee returns a fee and time lock lower bound for a payment of
// the given amount, computed without dispatching anything.
func (s *Server) EstimateRouteFee(_ context.Context,
	req *RouteFeeRequest) (*RouteFeeResponse, error) {

	if req.AmtSat <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %v",
			routing.ErrClientConstraint, req.AmtSat)
	}

	fee, timeLock, err := s.cfg.Router.EstimateRouteFee(
		req.Dest, lnwire.NewMSatFromSatoshis(req.AmtSat),
	)
	if err != nil {
		return nil, err
	}

	return &RouteFeeResponse{
		RoutingFeeMsat: fee,
		TimeLockDelay:  timeLock,
	}, nil
}

// SendToRoute dispatches the given route exactly once. A remote failure is
// reported in the response; every other error is returned as is.
func (s *Server) SendToRoute(ctx context.Context,
	req *SendToRouteRequest) (*SendToRouteResponse, error) {

	if req.Route == nil {
		return nil, fmt.Errorf("%w: no route provided",
			routing.ErrClientConstraint)
	}

	preimage, err := s.cfg.Router.SendToRoute(
		ctx, req.PaymentHash, req.Route,
	)
	if err == nil {
		return &SendToRouteResponse{Preimage: preimage}, nil
	}

	var failure *lnwire.Failure
	if errors.As(err, &failure) {
		return &SendToRouteResponse{Failure: failure}, nil
	}

	return nil, err
}

// extractPayment turns an RPC payment request into the dispatcher's payment
// intent, enforcing every client constraint that can be checked without
// touching the network.
func (s *Server) extractPayment(
	req *PaymentRequest) (*routing.LightningPayment, error) {

	if req.TimeoutSeconds <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %v",
			routing.ErrClientConstraint, req.TimeoutSeconds)
	}
	if req.FeeLimitSat < 0 {
		return nil, fmt.Errorf("%w: negative fee limit %v",
			routing.ErrClientConstraint, req.FeeLimitSat)
	}

	payReq := strings.ToLower(strings.TrimSpace(req.PayReq))
	payReq = strings.TrimPrefix(payReq, "lightning:")

	bolt11, err := decodepay.Decodepay(payReq)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to decode payment "+
			"request: %v", routing.ErrClientConstraint, err)
	}

	if bolt11.MSatoshi <= 0 {
		return nil, fmt.Errorf("%w: payment request carries no amount",
			routing.ErrClientConstraint)
	}

	expiry := bolt11.Expiry
	if expiry == 0 {
		expiry = DefaultInvoiceExpiry
	}
	expiresAt := time.Unix(int64(bolt11.CreatedAt), 0).
		Add(time.Duration(expiry) * time.Second)
	if !s.cfg.Clock.Now().Before(expiresAt) {
		return nil, fmt.Errorf("%w: payment request expired at %v",
			routing.ErrClientConstraint, expiresAt)
	}

	target, err := route.NewVertexFromStr(bolt11.Payee)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payee key: %v",
			routing.ErrClientConstraint, err)
	}

	hash, err := lntypes.MakeHashFromStr(bolt11.PaymentHash)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payment hash: %v",
			routing.ErrClientConstraint, err)
	}

	// A cltv budget below the destination's required final delta can
	// never yield a route, reject it up front.
	finalCltvDelta := uint32(bolt11.MinFinalCLTVExpiry)
	if finalCltvDelta == 0 {
		finalCltvDelta = DefaultFinalCltvDelta
	}

	cltvLimit := req.CltvLimit
	switch {
	case cltvLimit == 0:
		cltvLimit = math.MaxUint32

	case cltvLimit < finalCltvDelta:
		return nil, fmt.Errorf("%w: cltv limit %v below the "+
			"destination's final delta %v",
			routing.ErrClientConstraint, cltvLimit,
			finalCltvDelta)
	}

	return &routing.LightningPayment{
		Target:            target,
		Amount:            lnwire.MilliSatoshi(bolt11.MSatoshi),
		PaymentHash:       hash,
		FeeLimit:          lnwire.NewMSatFromSatoshis(req.FeeLimitSat),
		CltvLimit:         cltvLimit,
		Timeout:           time.Duration(req.TimeoutSeconds) * time.Second,
		OutgoingChannelID: req.OutgoingChannelID,
	}, nil
}
