// Package ledger reads batch attestation accounts from the Solana chain.
// The chain is an oracle here: lookups are bounded and advisory, a scan is
// never blocked on RPC health.
package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"github.com/sirupsen/logrus"
)

// Record is the decoded on-chain batch account.
type Record struct {
	BatchHash         string
	MedicineName      string
	ManufacturerKey   [32]byte
	ManufacturingDate time.Time
	ExpiryDate        time.Time
	Status            RecordStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type RecordStatus uint8

const (
	RecordActive RecordStatus = iota
	RecordRecalled
	RecordExpired
)

func (s RecordStatus) String() string {
	switch s {
	case RecordActive:
		return "ACTIVE"
	case RecordRecalled:
		return "RECALLED"
	case RecordExpired:
		return "EXPIRED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// ErrUnavailable reports a transient oracle failure (RPC down, timeout).
// Distinct from a definitive miss: ErrAccountNotFound means the chain
// answered and the account does not exist.
var (
	ErrUnavailable     = errors.New("ledger unavailable")
	ErrAccountNotFound = errors.New("ledger account not found")
)

// Oracle answers batch account lookups.
type Oracle interface {
	FetchRecord(ctx context.Context, pda string) (*Record, error)
}

// Client talks to a Solana RPC node over HTTP JSON-RPC.
type Client struct {
	rpcURL     string
	commitment string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(logger *logrus.Logger) *Client {
	return &Client{
		rpcURL:     config.SolanaRPCURL(),
		commitment: config.SolanaCommitment(),
		httpClient: &http.Client{Timeout: config.LedgerTimeout()},
		logger:     logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type accountInfoResponse struct {
	Result struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

// FetchRecord resolves the account at pda via getAccountInfo and decodes it.
func (c *Client) FetchRecord(ctx context.Context, pda string) (*Record, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getAccountInfo",
		Params: []any{
			pda,
			map[string]string{"encoding": "base64", "commitment": c.commitment},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"pda": pda, "error": err.Error()}).
			Warn("solana rpc request failed")
		return nil, ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{"pda": pda, "status": resp.StatusCode}).
			Warn("solana rpc returned non-200")
		return nil, ErrUnavailable
	}

	var parsed accountInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, ErrUnavailable
	}
	if parsed.Error != nil {
		c.logger.WithFields(logrus.Fields{"pda": pda, "code": parsed.Error.Code, "message": parsed.Error.Message}).
			Warn("solana rpc error")
		return nil, ErrUnavailable
	}
	if parsed.Result.Value == nil {
		return nil, ErrAccountNotFound
	}
	if len(parsed.Result.Value.Data) < 1 {
		return nil, fmt.Errorf("malformed account data for %s", pda)
	}

	raw, err := base64.StdEncoding.DecodeString(parsed.Result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return decodeBatchAccount(raw)
}

// decodeBatchAccount parses the Anchor batch account: an 8-byte
// discriminator, then borsh fields in declaration order.
func decodeBatchAccount(raw []byte) (*Record, error) {
	r := &borshReader{buf: raw}
	r.skip(8)

	rec := Record{}
	rec.BatchHash = r.readString()
	rec.MedicineName = r.readString()
	r.readBytes(rec.ManufacturerKey[:])
	rec.ManufacturingDate = time.Unix(r.readI64(), 0).UTC()
	rec.ExpiryDate = time.Unix(r.readI64(), 0).UTC()
	rec.Status = RecordStatus(r.readU8())
	rec.CreatedAt = time.Unix(r.readI64(), 0).UTC()
	rec.UpdatedAt = time.Unix(r.readI64(), 0).UTC()
	r.readU8() // bump

	if r.err != nil {
		return nil, fmt.Errorf("decode batch account: %w", r.err)
	}
	return &rec, nil
}

type borshReader struct {
	buf []byte
	pos int
	err error
}

func (r *borshReader) skip(n int) {
	if r.err != nil {
		return
	}
	if r.pos+n > len(r.buf) {
		r.err = errors.New("short buffer")
		return
	}
	r.pos += n
}

func (r *borshReader) readU8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.pos+1 > len(r.buf) {
		r.err = errors.New("short buffer")
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *borshReader) readI64() int64 {
	if r.err != nil {
		return 0
	}
	if r.pos+8 > len(r.buf) {
		r.err = errors.New("short buffer")
		return 0
	}
	v := int64(binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8]))
	r.pos += 8
	return v
}

func (r *borshReader) readString() string {
	if r.err != nil {
		return ""
	}
	if r.pos+4 > len(r.buf) {
		r.err = errors.New("short buffer")
		return ""
	}
	n := int(binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4]))
	r.pos += 4
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = errors.New("short buffer")
		return ""
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *borshReader) readBytes(dst []byte) {
	if r.err != nil {
		return
	}
	if r.pos+len(dst) > len(r.buf) {
		r.err = errors.New("short buffer")
		return
	}
	copy(dst, r.buf[r.pos:r.pos+len(dst)])
	r.pos += len(dst)
}
