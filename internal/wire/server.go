package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"perpmatch/internal/common"
	"perpmatch/internal/market"
	"perpmatch/internal/position"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 5 * time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
	ErrUntrustedCaller    = errors.New("caller is not authorized for this operation")
)

// clientSession tracks one connected TCP session.
type clientSession struct {
	conn net.Conn
}

// clientMessage links a parsed request to the connection it arrived on.
type clientMessage struct {
	clientAddress string
	message       Message
}

// TrustedCaller authorizes operations that in the original canister
// were gated to the deploying principal or a designated vault
// callback: state updates, the funding timer and error-log
// acknowledgements. Market itself performs no authentication, so the
// wire layer is where this check is enforced.
type TrustedCaller func(clientAddress string) bool

// Server is the matching core's TCP front door: a listener, a bounded
// worker pool reading connections, and a single session handler that
// is the only goroutine ever allowed to call into Market, preserving
// its single-threaded contract.
type Server struct {
	address string
	port    int
	market  *market.Market
	trusted TrustedCaller

	pool   WorkerPool
	cancel context.CancelFunc

	clientSessions     map[string]clientSession
	clientSessionsLock sync.Mutex
	clientMessages     chan clientMessage
}

// New constructs a server bound to address:port, driving m. trusted
// decides which connections may invoke admin operations; pass nil to
// deny all of them.
func New(address string, port int, m *market.Market, trusted TrustedCaller) *Server {
	if trusted == nil {
		trusted = func(string) bool { return false }
	}
	return &Server{
		address:        address,
		port:           port,
		market:         m,
		trusted:        trusted,
		pool:           NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]clientSession),
		clientMessages: make(chan clientMessage, 1),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("wire server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run starts accepting connections and blocks until ctx is cancelled or
// an unrecoverable listener error occurs.
func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()
	// Unblock Accept once ctx is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", listener.Addr().String()).Msg("wire server running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("error accepting client")
				continue
			}
			log.Info().Str("address", conn.RemoteAddr().String()).Msg("new client connected")
			s.addClientSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

// sessionHandler is the sole goroutine that calls into Market, keeping
// every position operation strictly serialized regardless of how many
// connections are being read concurrently.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.clientMessages:
			if err := s.handleMessage(t.Context(nil), msg); err != nil {
				log.Error().Err(err).Str("clientAddress", msg.clientAddress).Msg("error handling message")
			}
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, msg clientMessage) error {
	switch m := msg.message.(type) {
	case BaseMessage:
		switch m.TypeOf {
		case Heartbeat:
			return nil
		case GetBestOffers:
			highestBuy, haveBuy, lowestSell, haveSell := s.market.GetBestOffers()
			r := Report{MessageType: BestOffersReport}
			if haveBuy {
				r.HighestBuy = highestBuy
			}
			if haveSell {
				r.LowestSell = lowestSell
			}
			return s.send(msg.clientAddress, r.Serialize())
		}
	case PositionMessage:
		return s.handlePositionMessage(ctx, msg.clientAddress, m)
	case AdminMessage:
		return s.handleAdminMessage(ctx, msg.clientAddress, m)
	}
	return ErrInvalidMessageType
}

// handleAdminMessage gates every trusted-caller-only operation behind
// s.trusted before touching Market, since Market performs no caller
// authentication of its own.
func (s *Server) handleAdminMessage(ctx context.Context, clientAddress string, m AdminMessage) error {
	if !s.trusted(clientAddress) {
		return s.send(clientAddress, errorReport(uuid.Nil, ErrUntrustedCaller))
	}

	switch m.TypeOf {
	case AdminUpdateState:
		s.market.UpdateStateDetails(market.StateDetails{
			NotPaused:      m.NotPaused,
			MaxLeverageX10: m.MaxLeverageX10,
			MinCollateral:  m.MinCollateral,
		})
	case AdminStartFunding:
		s.market.StartFundingTimer(ctx, time.Duration(m.FundingPeriodSeconds)*time.Second)
	case AdminStopFunding:
		s.market.StopFundingTimer()
	case AdminSuccessNotification:
		var sub common.Subaccount
		copy(sub[:], m.Subaccount[:])
		s.market.SuccessNotification(sub)
	case AdminRetryError:
		var sub common.Subaccount
		copy(sub[:], m.Subaccount[:])
		if err := s.market.RetryAccountError(ctx, sub); err != nil {
			return s.send(clientAddress, errorReport(uuid.Nil, err))
		}
	default:
		return ErrInvalidMessageType
	}
	return s.send(clientAddress, (&Report{MessageType: PositionReport}).Serialize())
}

func (s *Server) handlePositionMessage(ctx context.Context, clientAddress string, m PositionMessage) error {
	var sub common.Subaccount
	copy(sub[:], m.Subaccount[:])

	var (
		proceeds uint64
		status   position.Status
		err      error
	)

	switch m.TypeOf {
	case OpenMarket:
		_, err = s.market.OpenMarketPosition(ctx, sub, m.Collateral, m.LeverageX10, m.Long, nil)
	case OpenLimit:
		_, err = s.market.OpenLimitPosition(ctx, sub, m.Collateral, m.LeverageX10, m.Long, m.Tick)
	case CloseMarket:
		proceeds, err = s.market.CloseMarketPosition(ctx, sub, nil)
	case CloseLimit:
		proceeds, status, err = s.market.CloseLimitPosition(ctx, sub)
	case Liquidate:
		// Tick is repurposed to carry the maintenance-margin basis
		// points for this request; liquidation checks the oracle's
		// own mark tick, not this field.
		_, err = s.market.LiquidatePosition(ctx, sub, m.Tick)
	case GetAccountPosition:
		view, ok := s.market.GetAccountPositionDetails(ctx, sub)
		if !ok {
			err = market.ErrPositionNotFound
			break
		}
		// PnL can be negative; callers decode Proceeds as signed.
		proceeds = uint64(view.UnrealisedPnL)
		status = view.Status
	default:
		return ErrInvalidMessageType
	}

	if err != nil {
		log.Error().Err(err).Str("clientAddress", clientAddress).Uint16("type", uint16(m.TypeOf)).Msg("position operation failed")
		return s.send(clientAddress, errorReport(m.RequestID, err))
	}

	r := Report{
		MessageType: PositionReport,
		RequestID:   m.RequestID,
		Proceeds:    proceeds,
		Status:      uint8(status),
	}
	return s.send(clientAddress, r.Serialize())
}

func (s *Server) send(clientAddress string, payload []byte) error {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	client, ok := s.clientSessions[clientAddress]
	if !ok {
		return ErrClientDoesNotExist
	}
	if _, err := client.conn.Write(payload); err != nil {
		delete(s.clientSessions, clientAddress)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// handleConnection is a short-lived worker task: it reads one frame off
// conn, parses it, and hands it to the session handler before
// re-queuing conn for the next frame. It never calls into Market
// directly.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().Str("address", conn.RemoteAddr().String()).Err(err).Msg("failed setting deadline")
		s.closeConn(conn)
		return nil
	}

	buffer := make([]byte, maxRecvSize)
	select {
	case <-t.Dying():
		return nil
	default:
		n, err := conn.Read(buffer)
		if err != nil {
			s.deleteClientSession(conn.RemoteAddr().String())
			s.closeConn(conn)
			return nil
		}

		message, err := parseMessage(buffer[:n])
		if err != nil {
			log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("error parsing message")
			s.deleteClientSession(conn.RemoteAddr().String())
			s.closeConn(conn)
			return nil
		}

		s.clientMessages <- clientMessage{clientAddress: conn.RemoteAddr().String(), message: message}
		s.pool.AddTask(conn)
	}
	return nil
}

func (s *Server) closeConn(conn net.Conn) {
	if err := conn.Close(); err != nil {
		log.Error().Str("address", conn.RemoteAddr().String()).Err(err).Msg("error closing connection")
	}
}

func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.clientSessions[conn.RemoteAddr().String()] = clientSession{conn: conn}
}

func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	delete(s.clientSessions, address)
}
