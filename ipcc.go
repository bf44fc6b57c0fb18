package kernel

import "context"

// Client wraps a *Phone with an ergonomic CallSync/CallAsync surface,
// playing the role original_source/ipcc/ipcc.c plays for userspace C
// code: a thin wrapper over the raw syscalls giving callers Payload
// in/Payload out instead of positional method+5-args arguments scattered
// across call sites.
type Client struct {
	k     *Kernel
	owner *Task
	phone *Phone
}

// NewClient wraps phone, issuing calls on owner's behalf.
func NewClient(k *Kernel, owner *Task, phone *Phone) *Client {
	return &Client{k: k, owner: owner, phone: phone}
}

// CallSync sends method and args, blocking for the reply.
func (c *Client) CallSync(ctx context.Context, method uint32, args [5]uint64) (Payload, error) {
	return c.k.CallSync(ctx, c.owner, c.phone, Payload{Method: method, Args: args})
}

// CallAsync sends method and args without waiting, returning the call id.
func (c *Client) CallAsync(method uint32, args [5]uint64) (CallID, error) {
	return c.k.CallAsync(c.owner, c.phone, Payload{Method: method, Args: args})
}

// Hangup closes the wrapped phone.
func (c *Client) Hangup() error {
	return c.k.Hangup(c.owner, c.phone.id)
}
