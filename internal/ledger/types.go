package ledger

import (
	"encoding/json"
	"strconv"

	"sui-sniper/internal/domain"
)

// EventPage is one page of results from an event query.
type EventPage struct {
	Events      []domain.Event
	NextCursor  domain.Cursor
	HasNextPage bool
}

// TransactionBlock is a confirmed transaction with its balance deltas.
type TransactionBlock struct {
	Digest         string
	TimestampMs    int64
	BalanceChanges []domain.BalanceChange
}

// rawEvent mirrors the full node's SuiEvent JSON shape.
type rawEvent struct {
	ID struct {
		TxDigest string `json:"txDigest"`
		EventSeq string `json:"eventSeq"`
	} `json:"id"`
	PackageID         string          `json:"packageId"`
	TransactionModule string          `json:"transactionModule"`
	Sender            string          `json:"sender"`
	Type              string          `json:"type"`
	ParsedJSON        json.RawMessage `json:"parsedJson"`
	TimestampMs       string          `json:"timestampMs"`
}

// rawEventPage mirrors the suix_queryEvents result.
type rawEventPage struct {
	Data       []rawEvent `json:"data"`
	NextCursor *struct {
		TxDigest string `json:"txDigest"`
		EventSeq string `json:"eventSeq"`
	} `json:"nextCursor"`
	HasNextPage bool `json:"hasNextPage"`
}

func (p *rawEventPage) toEventPage() *EventPage {
	page := &EventPage{HasNextPage: p.HasNextPage}
	for _, re := range p.Data {
		ts, _ := strconv.ParseInt(re.TimestampMs, 10, 64)
		page.Events = append(page.Events, domain.Event{
			ID:          domain.Cursor{TxDigest: re.ID.TxDigest, EventSeq: re.ID.EventSeq},
			Type:        re.Type,
			Sender:      re.Sender,
			TimestampMs: ts,
			Payload:     re.ParsedJSON,
		})
	}
	if p.NextCursor != nil {
		page.NextCursor = domain.Cursor{TxDigest: p.NextCursor.TxDigest, EventSeq: p.NextCursor.EventSeq}
	}
	return page
}

// rawTransactionBlock mirrors the sui_getTransactionBlock result with
// showBalanceChanges enabled.
type rawTransactionBlock struct {
	Digest         string `json:"digest"`
	TimestampMs    string `json:"timestampMs"`
	BalanceChanges []struct {
		Owner struct {
			AddressOwner string `json:"AddressOwner"`
		} `json:"owner"`
		CoinType string `json:"coinType"`
		Amount   string `json:"amount"`
	} `json:"balanceChanges"`
}

func (t *rawTransactionBlock) toTransactionBlock() *TransactionBlock {
	ts, _ := strconv.ParseInt(t.TimestampMs, 10, 64)
	block := &TransactionBlock{Digest: t.Digest, TimestampMs: ts}
	for _, bc := range t.BalanceChanges {
		amount, _ := strconv.ParseInt(bc.Amount, 10, 64)
		block.BalanceChanges = append(block.BalanceChanges, domain.BalanceChange{
			Owner:    bc.Owner.AddressOwner,
			CoinType: bc.CoinType,
			Amount:   amount,
		})
	}
	return block
}
