// Command client is a CLI front end for the wire protocol: it opens,
// closes and liquidates positions, fetches best offers and account
// views, and issues trusted-caller admin operations, printing whatever
// report comes back.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"

	"perpmatch/internal/common"
	"perpmatch/internal/wire"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the matching core")
	action := flag.String("action", "open-market", "action: open-market, open-limit, close-market, close-limit, liquidate, best-offers, account, update-state, start-funding, stop-funding")
	principal := flag.String("principal", "", "principal name the subaccount is derived from (required for position actions)")
	subIndex := flag.Uint("sub-index", 0, "subaccount index")
	collateral := flag.Uint64("collateral", 0, "collateral amount, in quote units")
	leverageX10 := flag.Uint64("leverage", 10, "leverage, fixed-point x10 (10 == 1x)")
	long := flag.Bool("long", true, "position side: long if true, short if false")
	tick := flag.Uint64("tick", 0, "limit order tick, or maintenance-margin bp for liquidate")
	notPaused := flag.Bool("not-paused", true, "admin: market accepts new positions")
	maxLeverageX10 := flag.Uint64("max-leverage", 100, "admin: max leverage, fixed-point x10")
	minCollateral := flag.Uint64("min-collateral", 0, "admin: minimum collateral")
	fundingPeriodSeconds := flag.Uint64("funding-period", 3600, "admin: funding settlement period, seconds")
	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("unable to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()

	sub := subaccountFor(*principal, uint8(*subIndex))

	var payload []byte
	switch strings.ToLower(*action) {
	case "open-market":
		payload = positionRequest(wire.OpenMarket, sub, *collateral, *leverageX10, *long, 0)
	case "open-limit":
		payload = positionRequest(wire.OpenLimit, sub, *collateral, *leverageX10, *long, *tick)
	case "close-market":
		payload = positionRequest(wire.CloseMarket, sub, 0, 0, *long, 0)
	case "close-limit":
		payload = positionRequest(wire.CloseLimit, sub, 0, 0, *long, 0)
	case "liquidate":
		payload = positionRequest(wire.Liquidate, sub, 0, 0, *long, *tick)
	case "account":
		payload = positionRequest(wire.GetAccountPosition, sub, 0, 0, *long, 0)
	case "best-offers":
		payload = (wire.BaseMessage{TypeOf: wire.GetBestOffers}).Serialize()
	case "update-state":
		payload = (&wire.AdminMessage{
			BaseMessage:    wire.BaseMessage{TypeOf: wire.AdminUpdateState},
			NotPaused:      *notPaused,
			MaxLeverageX10: *maxLeverageX10,
			MinCollateral:  *minCollateral,
		}).Serialize()
	case "start-funding":
		payload = (&wire.AdminMessage{
			BaseMessage:          wire.BaseMessage{TypeOf: wire.AdminStartFunding},
			FundingPeriodSeconds: *fundingPeriodSeconds,
		}).Serialize()
	case "stop-funding":
		payload = (&wire.AdminMessage{BaseMessage: wire.BaseMessage{TypeOf: wire.AdminStopFunding}}).Serialize()
	default:
		log.Fatalf("unknown action: %s", *action)
	}

	if _, err := conn.Write(payload); err != nil {
		log.Fatalf("unable to send request: %v", err)
	}

	printReport(conn)
}

// subaccountFor derives a subaccount the same way the server's vault
// integration would, so a client run against a given principal always
// addresses the same position slot.
func subaccountFor(principal string, index uint8) common.Subaccount {
	if principal == "" {
		log.Fatal("-principal is required")
	}
	return common.DeriveSubaccount(principal, index)
}

func positionRequest(typeOf wire.MessageType, sub common.Subaccount, collateral, leverageX10 uint64, long bool, tick uint64) []byte {
	m := wire.PositionMessage{
		BaseMessage: wire.BaseMessage{TypeOf: typeOf},
		RequestID:   uuid.New(),
		Collateral:  collateral,
		LeverageX10: leverageX10,
		Long:        long,
		Tick:        tick,
	}
	copy(m.Subaccount[:], sub[:])
	return m.Serialize()
}

// printReport reads exactly one response frame and prints it; unlike
// the long-lived report stream a resting limit order's eventual fill
// notification would need, this client is a one-shot request/response
// tool and exits after the first frame.
func printReport(conn net.Conn) {
	buf := make([]byte, 4*1024)
	n, err := conn.Read(buf)
	if err != nil {
		if err != io.EOF {
			log.Printf("connection lost waiting for report: %v", err)
		}
		os.Exit(1)
	}

	r, err := wire.ParseReport(buf[:n])
	if err != nil {
		log.Fatalf("unable to parse report: %v", err)
	}

	switch r.MessageType {
	case wire.ErrorReport:
		fmt.Printf("[ERROR] %s\n", r.Err)
		os.Exit(1)
	case wire.BestOffersReport:
		fmt.Printf("[BEST OFFERS] highest buy tick: %d, lowest sell tick: %d\n", r.HighestBuy, r.LowestSell)
	default:
		fmt.Printf("[POSITION] proceeds/pnl: %d, status: %d\n", int64(r.Proceeds), r.Status)
	}
}
