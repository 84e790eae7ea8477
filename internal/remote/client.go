package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/csdgan/trainer/internal/classifier"
	"gonum.org/v1/gonum/mat"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Method names of the scoring service. Payloads are google.protobuf.Struct messages.
const (
	MethodFit     = "/csdgan.scorer.v1.ClassifierService/Fit"
	MethodScore   = "/csdgan.scorer.v1.ClassifierService/Score"
	MethodRelease = "/csdgan.scorer.v1.ClassifierService/Release"
)

var ErrBadResponse = errors.New("remote: malformed scorer response")

// #region types
// Model is a handle to a classifier fitted and held by the scoring service.
type Model struct {
	ID     string
	params classifier.Params
}

func (m *Model) Params() classifier.Params { return m.params }

// #endregion types

// #region client-struct
// Client implements classifier.Classifier against a remote scoring service.
type Client struct {
	conn    *grpc.ClientConn
	cc      grpc.ClientConnInterface
	timeout time.Duration
}

// #endregion client-struct

// #region constructor
// NewClient connects to the scoring gRPC server.
func NewClient(addr string, timeout time.Duration) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn, timeout: timeout}, nil
}

// NewClientWithConn creates a Client over an injected connection.
// Used for testing without a real gRPC server.
func NewClientWithConn(cc grpc.ClientConnInterface, timeout time.Duration) *Client {
	return &Client{cc: cc, timeout: timeout}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region fit
// Fit uploads the training set and grid; the service runs the search and keeps the model.
func (c *Client) Fit(ctx context.Context, x *mat.Dense, y []int, grid classifier.Grid, folds int) (classifier.Model, error) {
	if x == nil || len(y) == 0 {
		return nil, classifier.ErrEmptyData
	}
	req, err := structpb.NewStruct(map[string]any{
		"x":     rowsToList(x),
		"y":     intsToList(y),
		"folds": float64(folds),
		"grid": map[string]any{
			"tol":      floatsToList(grid.Tol),
			"C":        floatsToList(grid.C),
			"l1_ratio": floatsToList(grid.L1Ratio),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fit request: %w", err)
	}

	resp, err := c.invoke(ctx, MethodFit, req)
	if err != nil {
		return nil, fmt.Errorf("fit rpc: %w", err)
	}
	id := resp.GetFields()["model_id"].GetStringValue()
	if id == "" {
		return nil, fmt.Errorf("%w: missing model_id", ErrBadResponse)
	}
	m := &Model{ID: id}
	if p := resp.GetFields()["params"].GetStructValue(); p != nil {
		m.params = classifier.Params{
			Tol:     p.GetFields()["tol"].GetNumberValue(),
			C:       p.GetFields()["C"].GetNumberValue(),
			L1Ratio: p.GetFields()["l1_ratio"].GetNumberValue(),
		}
	}
	return m, nil
}

// #endregion fit

// #region score
// Score asks the service for the accuracy of a remote model on (x, y).
func (c *Client) Score(model classifier.Model, x *mat.Dense, y []int) (float64, error) {
	m, ok := model.(*Model)
	if !ok {
		return 0, classifier.ErrWrongModel
	}
	if x == nil || len(y) == 0 {
		return 0, classifier.ErrEmptyData
	}
	req, err := structpb.NewStruct(map[string]any{
		"model_id": m.ID,
		"x":        rowsToList(x),
		"y":        intsToList(y),
	})
	if err != nil {
		return 0, fmt.Errorf("score request: %w", err)
	}
	resp, err := c.invoke(context.Background(), MethodScore, req)
	if err != nil {
		return 0, fmt.Errorf("score rpc: %w", err)
	}
	v, ok := resp.GetFields()["score"]
	if !ok {
		return 0, fmt.Errorf("%w: missing score", ErrBadResponse)
	}
	return v.GetNumberValue(), nil
}

// #endregion score

// #region release
// Release drops a remote model once it has been scored.
func (c *Client) Release(ctx context.Context, model classifier.Model) error {
	m, ok := model.(*Model)
	if !ok {
		return classifier.ErrWrongModel
	}
	req, err := structpb.NewStruct(map[string]any{"model_id": m.ID})
	if err != nil {
		return fmt.Errorf("release request: %w", err)
	}
	if _, err := c.invoke(ctx, MethodRelease, req); err != nil {
		return fmt.Errorf("release rpc: %w", err)
	}
	return nil
}

// #endregion release

// #region helpers
func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func rowsToList(x *mat.Dense) []any {
	rows, _ := x.Dims()
	out := make([]any, rows)
	for r := 0; r < rows; r++ {
		out[r] = floatsToList(x.RawRowView(r))
	}
	return out
}

func floatsToList(v []float64) []any {
	out := make([]any, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}

func intsToList(v []int) []any {
	out := make([]any, len(v))
	for i, n := range v {
		out[i] = float64(n)
	}
	return out
}

// #endregion helpers
