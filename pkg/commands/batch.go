package commands

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/ravendb/ravendb.go/internal/codec"
)

// BatchOptions carries the server-side waits requested for a batch.
type BatchOptions struct {
	WaitForReplicas           bool
	ReplicasTimeout           time.Duration
	NumberOfReplicas          int
	Majority                  bool
	ThrowOnTimeoutForReplicas bool

	WaitForIndexes           bool
	IndexesTimeout           time.Duration
	ThrowOnTimeoutForIndexes bool
	Indexes                  []string
}

// Batch is one atomic write request.
type Batch struct {
	Commands []Command
	Options  *BatchOptions
}

// Empty reports whether there is nothing to send.
func (b *Batch) Empty() bool { return len(b.Commands) == 0 }

// Payload is the JSON envelope: {"Commands": [...]} in submission order.
func (b *Batch) Payload() map[string]any {
	cmds := make([]any, len(b.Commands))
	for i, c := range b.Commands {
		cmds[i] = c.Serialize()
	}
	return map[string]any{"Commands": cmds}
}

// QueryParams renders the wait options as URL parameters.
func (b *Batch) QueryParams() url.Values {
	v := url.Values{}
	o := b.Options
	if o == nil {
		return v
	}
	if o.WaitForReplicas {
		v.Set("waitForReplicasTimeout", TimeSpan(o.ReplicasTimeout))
		v.Set("throwOnTimeoutInWaitForReplicas", strconv.FormatBool(o.ThrowOnTimeoutForReplicas))
		if o.Majority {
			v.Set("numberOfReplicasToWaitFor", "majority")
		} else {
			v.Set("numberOfReplicasToWaitFor", strconv.Itoa(o.NumberOfReplicas))
		}
	}
	if o.WaitForIndexes {
		v.Set("waitForIndexesTimeout", TimeSpan(o.IndexesTimeout))
		v.Set("waitForIndexThrow", strconv.FormatBool(o.ThrowOnTimeoutForIndexes))
		for _, idx := range o.Indexes {
			v.Add("waitForSpecificIndex", idx)
		}
	}
	return v
}

func (b *Batch) attachments() []AttachmentPut {
	var out []AttachmentPut
	for _, c := range b.Commands {
		if a, ok := c.(AttachmentPut); ok {
			out = append(out, a)
		}
	}
	return out
}

// Body returns the content type and a writer for the request body. Batches
// uploading attachments are sent as multipart/mixed: the JSON envelope first,
// then one part per attachment stream in command order.
func (b *Batch) Body(m codec.Marshaler) (string, func(io.Writer) error) {
	attachments := b.attachments()
	if len(attachments) == 0 {
		return "application/json", func(w io.Writer) error {
			return m.NewEncoder(w).Encode(b.Payload())
		}
	}

	boundary := multipart.NewWriter(io.Discard).Boundary()
	return "multipart/mixed; boundary=" + boundary, func(w io.Writer) error {
		mw := multipart.NewWriter(w)
		if err := mw.SetBoundary(boundary); err != nil {
			return err
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json"}})
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := m.NewEncoder(&buf).Encode(b.Payload()); err != nil {
			return err
		}
		if _, err := part.Write(buf.Bytes()); err != nil {
			return err
		}
		for _, a := range attachments {
			part, err := mw.CreatePart(textproto.MIMEHeader{"Command-Type": {"AttachmentStream"}})
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, a.Stream()); err != nil {
				return fmt.Errorf("attachment %q of %q: %w", a.Name(), a.ID(), err)
			}
		}
		return mw.Close()
	}
}

// TimeSpan formats d the way the server parses durations: [d.]hh:mm:ss[.fffffff].
func TimeSpan(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second
	ticks := d / 100

	s := fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	if days > 0 {
		s = fmt.Sprintf("%d.%s", days, s)
	}
	if ticks > 0 {
		s = fmt.Sprintf("%s.%07d", s, ticks)
	}
	return s
}
