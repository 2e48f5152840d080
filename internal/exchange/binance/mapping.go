package binance

import (
	"errors"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
	apperrors "github.com/opensqt/gridbot/pkg/errors"
)

// mapError translates a Binance SDK error into the classified taxonomy
// from spec section 7. Codes are the exchange's documented error codes;
// anything that isn't a recognized *gobinance.APIError is assumed to be a
// transport-level network/timeout failure and is retryable.
func (a *Adapter) mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *gobinance.APIError
	if !errors.As(err, &apiErr) {
		return apperrors.New(apperrors.KindNetwork, "binance", err)
	}

	switch apiErr.Code {
	case -2014, -2015:
		return apperrors.New(apperrors.KindAuthentication, "binance", apiErr)
	case -2010:
		return apperrors.New(apperrors.KindInsufficientFunds, "binance", apiErr)
	case -2011, -2013:
		return apperrors.New(apperrors.KindOrderNotFound, "binance", apiErr)
	case -1003, -1015:
		return apperrors.New(apperrors.KindRateLimit, "binance", apiErr)
	case -1021:
		// Timestamp outside recvWindow: retryable. Retries reuse the stored
		// offset; it is re-synced before a signed call only once it is older
		// than clockResyncInterval.
		return apperrors.New(apperrors.KindNetwork, "binance", apiErr)
	case -1013, -1100, -1111, -1102:
		return apperrors.New(apperrors.KindInvalidOrder, "binance", apiErr)
	default:
		return apperrors.New(apperrors.KindInvalidOrder, "binance", apiErr)
	}
}

func toBinanceSide(side core.OrderSide) gobinance.SideType {
	if side == core.Sell {
		return gobinance.SideTypeSell
	}
	return gobinance.SideTypeBuy
}

func fromBinanceSide(side gobinance.SideType) core.OrderSide {
	if side == gobinance.SideTypeSell {
		return core.Sell
	}
	return core.Buy
}

func toBinanceType(t core.OrderType) gobinance.OrderType {
	if t == core.Market {
		return gobinance.OrderTypeMarket
	}
	return gobinance.OrderTypeLimit
}

func fromBinanceType(t gobinance.OrderType) core.OrderType {
	if t == gobinance.OrderTypeMarket {
		return core.Market
	}
	return core.Limit
}

func fromBinanceStatus(s gobinance.OrderStatusType) core.OrderStatus {
	switch s {
	case gobinance.OrderStatusTypeFilled:
		return core.OrderClosed
	case gobinance.OrderStatusTypeCanceled, gobinance.OrderStatusTypeRejected:
		return core.OrderCanceled
	case gobinance.OrderStatusTypeExpired:
		return core.OrderExpired
	default:
		return core.OrderOpen
	}
}

func fromSDKOrder(o *gobinance.Order) core.Order {
	filled := parseDecimal(o.ExecutedQuantity)
	amount := parseDecimal(o.OrigQuantity)
	out := core.Order{
		ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:   o.ClientOrderID,
		Symbol:          o.Symbol,
		Side:            fromBinanceSide(o.Side),
		Type:            fromBinanceType(o.Type),
		Status:          fromBinanceStatus(o.Status),
		Price:           parseDecimal(o.Price),
		Amount:          amount,
		Filled:          filled,
		Remaining:       amount.Sub(filled),
		Cost:            parseDecimal(o.CummulativeQuoteQuantity),
		Timestamp:       time.UnixMilli(o.Time),
	}
	if out.Status == core.OrderClosed {
		out.Filled = out.Amount
		out.Remaining = decimal.Zero
	}
	return out
}

func fromCreateResponse(r *gobinance.CreateOrderResponse) core.Order {
	filled := parseDecimal(r.ExecutedQuantity)
	amount := parseDecimal(r.OrigQuantity)
	out := core.Order{
		ExchangeOrderID: strconv.FormatInt(r.OrderID, 10),
		ClientOrderID:   r.ClientOrderID,
		Symbol:          r.Symbol,
		Side:            fromBinanceSide(r.Side),
		Type:            fromBinanceType(r.Type),
		Status:          fromBinanceStatus(r.Status),
		Price:           parseDecimal(r.Price),
		Amount:          amount,
		Filled:          filled,
		Remaining:       amount.Sub(filled),
		Cost:            parseDecimal(r.CummulativeQuoteQuantity),
		Timestamp:       time.UnixMilli(r.TransactTime),
	}
	for _, f := range r.Fills {
		out.Fee = out.Fee.Add(parseDecimal(f.Commission))
		out.FeeCurrency = f.CommissionAsset
	}
	return out
}
