package protocol

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"time"
)

// Ticket transfer directions reported to hooks and logs.
const (
	TicketDownload = "download"
	TicketUpload   = "upload"
)

func ticketPath(ticket string) string {
	return EndpointTicket + "?id=" + url.QueryEscape(ticket)
}

// DownloadTicket fetches the bytes behind a download ticket. Closing the ticket
// afterwards is up to the caller.
func (c *Client) DownloadTicket(ctx context.Context, ticket string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.DownloadTicketTo(ctx, ticket, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DownloadTicketTo streams the bytes behind a download ticket into w and returns
// the number of bytes written. Failures are reported as *TicketTransferError.
func (c *Client) DownloadTicketTo(ctx context.Context, ticket string, w io.Writer) (int64, error) {
	if ticket == "" {
		return 0, &TicketTransferError{Err: &ArgumentError{Argument: "ticket", Message: "must not be empty"}}
	}

	start := time.Now()
	n, err := c.do(ctx, exchange{
		info: SendInfo{
			Kind:      ExchangeTicket,
			Method:    TicketDownload,
			RequestID: ticket,
			Endpoint:  EndpointTicket,
		},
		path:        ticketPath(ticket),
		contentType: ContentTypeOctetStream,
		accept:      ContentTypeOctetStream,
		body:        []byte{},
	}, func(r io.Reader) (int64, error) {
		return io.Copy(w, r)
	})
	if err != nil {
		err = &TicketTransferError{TicketID: ticket, StatusCode: statusOf(err), Err: err}
	}
	c.logger.LogTicketTransfer(TicketDownload, ticket, n, time.Since(start), err)
	return n, err
}

// UploadTicket sends data to an upload ticket. Failures are reported as *TicketUploadError.
func (c *Client) UploadTicket(ctx context.Context, ticket string, data []byte) error {
	return c.UploadTicketFrom(ctx, ticket, bytes.NewReader(data), int64(len(data)))
}

// UploadTicketFrom streams r to an upload ticket. size is the content length,
// or -1 when unknown.
func (c *Client) UploadTicketFrom(ctx context.Context, ticket string, r io.Reader, size int64) error {
	if ticket == "" {
		return &TicketUploadError{Err: &ArgumentError{Argument: "ticket", Message: "must not be empty"}}
	}
	if r == nil {
		r = bytes.NewReader(nil)
		size = 0
	}

	start := time.Now()
	_, err := c.do(ctx, exchange{
		info: SendInfo{
			Kind:      ExchangeTicket,
			Method:    TicketUpload,
			RequestID: ticket,
			Endpoint:  EndpointTicket,
			BytesSent: int(size),
		},
		path:        ticketPath(ticket),
		contentType: ContentTypeOctetStream,
		reader:      r,
		size:        size,
	}, func(body io.Reader) (int64, error) {
		return io.Copy(io.Discard, body)
	})
	if err != nil {
		err = &TicketUploadError{TicketID: ticket, Err: err}
	}
	c.logger.LogTicketTransfer(TicketUpload, ticket, size, time.Since(start), err)
	return err
}

func statusOf(err error) int {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.StatusCode()
	}
	return 0
}
