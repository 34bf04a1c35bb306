// Package brain turns an (exchange, asset) observation into one of
// Trade / Transfer / Wait, consulting Analyst for the current best deal
// and Mapper for transfer fees. It is a direct translation of the
// source's Brain.analyse decision table; no part of it is discretionary.
package brain

import (
	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/analyst"
	"github.com/nullstate/arb/internal/mapper"
)

// DealSource is the subset of Analyst Brain consults.
type DealSource interface {
	GetBestDeal() (analyst.Deal, bool)
	GetAllBenefits(currentExchange string, coinID int64) (analyst.Deal, bool)
}

// Action is the discriminated recommendation Brain returns. Exactly one
// of Trade, Transfer or Wait is non-nil.
type Action struct {
	Trade    *Trade
	Transfer *Transfer
	Wait     *Wait
}

// Trade is a same-exchange market buy/sell.
type Trade struct {
	SellCoin int64
	BuyCoin  int64
}

// Transfer is a cross-exchange withdrawal.
type Transfer struct {
	CoinID      int64
	Departure   string
	Destination string
}

// Wait defers consultation by Seconds.
type Wait struct {
	Seconds float64
}

const waitRetrySeconds = 10

// Brain holds the slippage cushion and its data sources. It has no
// mutable state: Analyse is a pure function of its inputs plus whatever
// Analyst/Mapper report at call time.
type Brain struct {
	analyst  DealSource
	mapper   *mapper.Mapper
	additive float64
	log      zerolog.Logger
}

// New constructs a Brain. additive is the configured slippage/cost
// cushion (source default: 2.0 quote units).
func New(analyst DealSource, m *mapper.Mapper, additive float64, log zerolog.Logger) *Brain {
	return &Brain{analyst: analyst, mapper: m, additive: additive, log: log.With().Str("component", "brain").Logger()}
}

// Analyse runs the decision table for one (exchange, coin, amount)
// observation.
func (b *Brain) Analyse(exchange string, coinID int64, amount float64) Action {
	usdtID, haveUSDT := b.mapper.USDT()
	if haveUSDT && coinID == usdtID {
		return b.analyseUSDT(exchange, coinID, amount)
	}
	if b.mapper.IsAnalyzed(coinID) {
		return b.analyseOther(exchange, coinID, amount)
	}

	b.log.Warn().Int64("coin_id", coinID).Msg("coin not found in analyzed set")
	buyCoin := int64(0)
	if haveUSDT {
		buyCoin = usdtID
	}
	return Action{Trade: &Trade{SellCoin: coinID, BuyCoin: buyCoin}}
}

func (b *Brain) analyseUSDT(exchange string, coinID int64, amount float64) Action {
	deal, ok := b.analyst.GetBestDeal()
	if !ok {
		return Action{Wait: &Wait{Seconds: waitRetrySeconds}}
	}

	dealFee, ok := b.mapper.GetFee(deal.Departure, deal.Destination, deal.CoinID)
	if !ok {
		return Action{Wait: &Wait{Seconds: waitRetrySeconds}}
	}

	if exchange == deal.Departure {
		transferFee, ok := b.mapper.GetFee(exchange, deal.Destination, coinID)
		if !ok {
			return Action{Wait: &Wait{Seconds: waitRetrySeconds}}
		}
		profit := (amount-transferFee)*(1+deal.Benefit) - b.additive
		if profit >= dealFee {
			return Action{Transfer: &Transfer{CoinID: coinID, Departure: exchange, Destination: deal.Destination}}
		}
		return Action{Wait: &Wait{Seconds: waitRetrySeconds}}
	}

	profit := amount*(1+deal.Benefit) - b.additive
	if profit >= dealFee {
		return Action{Trade: &Trade{SellCoin: coinID, BuyCoin: deal.CoinID}}
	}
	return Action{Wait: &Wait{Seconds: waitRetrySeconds}}
}

func (b *Brain) analyseOther(currentExchange string, coinID int64, amount float64) Action {
	usdtID, _ := b.mapper.USDT()
	sell := Action{Trade: &Trade{SellCoin: coinID, BuyCoin: usdtID}}

	deal, ok := b.analyst.GetAllBenefits(currentExchange, coinID)
	if !ok {
		return sell
	}

	dealFee, ok := b.mapper.GetFee(currentExchange, deal.Destination, coinID)
	if !ok {
		return sell
	}

	profit := amount*(1+deal.Benefit) - b.additive
	if profit >= dealFee {
		return Action{Transfer: &Transfer{CoinID: coinID, Departure: currentExchange, Destination: deal.Destination}}
	}
	return sell
}
