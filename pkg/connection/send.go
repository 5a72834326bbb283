package connection

import (
	"context"
	"fmt"
)

// Send calls method on c and decodes the result into res.Result.
// Pass a nil res when the result is not needed.
func Send[Result any](c Connection, ctx context.Context, res *RPCResponse[Result], method RPCFunction, params ...any) error {
	rawRes, err := c.Send(ctx, string(method), params...)
	if err != nil {
		return err
	}

	if res == nil {
		return nil
	}

	if rawRes.ID != nil {
		res.ID = rawRes.ID
	}
	res.Error = rawRes.Error

	if rawRes.Result == nil {
		res.Result = nil
		return nil
	}

	var r Result
	if err := c.GetUnmarshaler().Unmarshal(*rawRes.Result, &r); err != nil {
		return fmt.Errorf("Send: error unmarshaling result of %s: %w", method, err)
	}

	res.Result = &r

	return nil
}
