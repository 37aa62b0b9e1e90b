package order

import (
	json "github.com/goccy/go-json"
)

// Outcome 为请求的终态：成功状态 S 或 *Error，二者只居其一。
// 只能通过 AckOpen/RejectOpen/AckCancel/RejectCancel 得到。
type Outcome[S any] struct {
	state S
	err   *Error
	acked bool
}

// Ok 返回成功状态。
func (o Outcome[S]) Ok() (S, bool) {
	if !o.acked {
		var zero S
		return zero, false
	}
	return o.state, true
}

// Err 返回失败原因，成功时为 nil。
func (o Outcome[S]) Err() *Error {
	if o.acked {
		return nil
	}
	if o.err == nil {
		return NewError(ErrorRejected, "no acknowledgement")
	}
	return o.err
}

// Unwrap 以 (state, error) 形式返回结果。
func (o Outcome[S]) Unwrap() (S, error) {
	if state, ok := o.Ok(); ok {
		return state, nil
	}
	var zero S
	return zero, o.Err()
}

type errorJSON struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

type outcomeJSON[S any] struct {
	Ok    bool       `json:"ok"`
	State *S         `json:"state,omitempty"`
	Error *errorJSON `json:"error,omitempty"`
}

func (o Outcome[S]) MarshalJSON() ([]byte, error) {
	if state, ok := o.Ok(); ok {
		return json.Marshal(outcomeJSON[S]{Ok: true, State: &state})
	}
	err := o.Err()
	return json.Marshal(outcomeJSON[S]{Error: &errorJSON{Kind: err.Kind, Message: err.Error()}})
}
