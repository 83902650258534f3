package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	zmq "github.com/pebbe/zmq4"
	"github.com/shopspring/decimal"

	"github.com/luxfi/synth/pkg/synth"
)

// NavTick is the wire format published on the PUB socket.
type NavTick struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Nav       decimal.Decimal `json:"nav"`
	Price     decimal.Decimal `json:"price"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
}

type priceUpdate struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
	At    int64  `json:"at"`
}

var (
	ticksSent   uint64
	rebalances  uint64
	natsForward uint64
)

func main() {
	port := flag.Int("port", 5556, "ZMQ PUB port for NAV ticks")
	natsURL := flag.String("nats", "", "NATS URL to forward prices to (empty disables)")
	interval := flag.Duration("interval", time.Second, "Tick interval")
	walkBps := flag.Int("walk-bps", 30, "Max price step per tick in basis points")
	seed := flag.Int64("seed", 0, "Random walk seed (0 = time-based)")
	startPrice := flag.String("price", "200000000000", "Starting oracle price in base units")
	leverage := flag.Uint64("leverage-bps", 20_000, "Leverage ratio in basis points")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	price, ok := new(big.Int).SetString(*startPrice, 10)
	if !ok || price.Sign() <= 0 {
		log.Fatalf("❌ Invalid start price %q", *startPrice)
	}

	log.Printf("⚡ Synth NAV Ticker")
	log.Printf("📡 PUB: tcp://*:%d", *port)
	log.Printf("🎲 Seed: %d, walk: ±%d bps per tick", *seed, *walkBps)

	// Publisher socket for NAV ticks
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		log.Fatalf("❌ Failed to create PUB socket: %v", err)
	}
	defer pubSocket.Close()
	if err := pubSocket.Bind(fmt.Sprintf("tcp://*:%d", *port)); err != nil {
		log.Fatalf("❌ Failed to bind PUB socket: %v", err)
	}

	var nc *nats.Conn
	if *natsURL != "" {
		nc, err = nats.Connect(*natsURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to NATS: %v", err)
		}
		defer nc.Close()
		log.Printf("📨 Forwarding prices to NATS %s on synth.prices", *natsURL)
	}

	long, short, oracle := buildShadowBooks(price, *leverage)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()

	var seq uint64
	startTime := time.Now()

	for {
		select {
		case <-sigChan:
			elapsed := time.Since(startTime).Seconds()
			fmt.Println("\n============================================================")
			fmt.Println("📊 TICKER RESULTS")
			fmt.Println("============================================================")
			fmt.Printf("Duration: %.1f seconds\n", elapsed)
			fmt.Printf("Ticks Published: %d\n", atomic.LoadUint64(&ticksSent))
			fmt.Printf("Rebalances: %d\n", atomic.LoadUint64(&rebalances))
			if nc != nil {
				fmt.Printf("Prices Forwarded: %d\n", atomic.LoadUint64(&natsForward))
			}
			return

		case <-ticker.C:
			now := time.Now()

			// Bounded random walk keeps the price strictly positive.
			stepBps := int64(rng.Intn(2**walkBps+1)) - int64(*walkBps)
			next := new(big.Int).Mul(price, big.NewInt(10_000+stepBps))
			next.Div(next, big.NewInt(10_000))
			if next.Sign() > 0 {
				price = next
			}
			oracle.SetPrice(price, now)

			if nc != nil {
				data, _ := json.Marshal(priceUpdate{
					Asset: "WETH",
					Price: price.String(),
					At:    now.Unix(),
				})
				if err := nc.Publish("synth.prices", data); err == nil {
					atomic.AddUint64(&natsForward, 1)
				}
			}

			for _, p := range []*synth.LeveragedPosition{long, short} {
				if p.NeedsRebalance() {
					if err := p.Rebalance(); err != nil {
						log.Printf("⚠️  Rebalance %s failed: %v", p.Symbol(), err)
						continue
					}
					atomic.AddUint64(&rebalances, 1)
				}

				nav, err := p.CurrentNav()
				if err != nil {
					continue
				}
				seq++
				tick := NavTick{
					Type:      "nav",
					Symbol:    p.Symbol(),
					Nav:       decimal.NewFromBigInt(nav, -6),
					Price:     decimal.NewFromBigInt(price, -8),
					Sequence:  seq,
					Timestamp: now,
				}
				data, err := json.Marshal(tick)
				if err != nil {
					continue
				}
				pubSocket.SendBytes(data, zmq.DONTWAIT)
				atomic.AddUint64(&ticksSent, 1)
			}

		case <-statsTicker.C:
			fmt.Printf("\r📡 Ticks: %d | Price: %s | Rebalances: %d",
				atomic.LoadUint64(&ticksSent),
				decimal.NewFromBigInt(price, -8),
				atomic.LoadUint64(&rebalances))
		}
	}
}

// buildShadowBooks wires a self-contained engine so the ticker can quote
// live NAVs without a running daemon. The books are seeded with enough
// liquidity and supply for both products to track the walk.
func buildShadowBooks(price *big.Int, leverageBps uint64) (*synth.LeveragedPosition, *synth.LeveragedPosition, *synth.SimplePriceOracle) {
	now := time.Now()
	market := synth.Market{
		StableAsset:      "USDC",
		ExposureAsset:    "WETH",
		StableDecimals:   6,
		ExposureDecimals: 8,
	}

	oracle := synth.NewSimplePriceOracle(price, 8, now)
	venue, err := synth.NewOracleQuotedVenue(market, oracle)
	if err != nil {
		log.Fatalf("❌ Venue: %v", err)
	}

	stableVault, err := synth.NewLendingVault(synth.VaultConfig{
		Asset: "USDC",
		Owner: "ticker",
	})
	if err != nil {
		log.Fatalf("❌ Stable vault: %v", err)
	}
	exposureVault, err := synth.NewLendingVault(synth.VaultConfig{
		Asset: "WETH",
		Owner: "ticker",
	})
	if err != nil {
		log.Fatalf("❌ Exposure vault: %v", err)
	}

	long, err := synth.NewLeveragedPosition(synth.PositionConfig{
		Symbol:           "ETH2L",
		Direction:        synth.Long,
		Market:           market,
		Owner:            "ticker",
		LeverageRatioBps: leverageBps,
		Vault:            stableVault,
		Oracle:           oracle,
		Venue:            venue,
	})
	if err != nil {
		log.Fatalf("❌ Long position: %v", err)
	}
	short, err := synth.NewLeveragedPosition(synth.PositionConfig{
		Symbol:           "ETH2S",
		Direction:        synth.Short,
		Market:           market,
		Owner:            "ticker",
		LeverageRatioBps: leverageBps,
		Vault:            exposureVault,
		Oracle:           oracle,
		Venue:            venue,
	})
	if err != nil {
		log.Fatalf("❌ Short position: %v", err)
	}

	// Seed liquidity and supply so NAV moves with the walk.
	if _, err := stableVault.Deposit("lp", big.NewInt(1_000_000_000_000)); err != nil {
		log.Fatalf("❌ Seed deposit: %v", err)
	}
	if _, err := exposureVault.Deposit("lp", big.NewInt(100_000_000_000)); err != nil {
		log.Fatalf("❌ Seed deposit: %v", err)
	}
	if err := stableVault.AuthorizeBorrower("ticker", "ETH2L"); err != nil {
		log.Fatalf("❌ Authorize: %v", err)
	}
	if err := exposureVault.AuthorizeBorrower("ticker", "ETH2S"); err != nil {
		log.Fatalf("❌ Authorize: %v", err)
	}
	if _, err := long.Mint("seed", big.NewInt(10_000_000_000)); err != nil {
		log.Fatalf("❌ Seed mint: %v", err)
	}
	if _, err := short.Mint("seed", big.NewInt(1_000_000_000)); err != nil {
		log.Fatalf("❌ Seed mint: %v", err)
	}

	return long, short, oracle
}
