// Package bridge translates packets from one protocol's ingest
// source.Source into a sibling source.Source for a different egress
// protocol, so (for example) an RTMP publisher can be watched by a
// WebRTC viewer without either side knowing the other protocol exists
// (§4.2, §4.3).
//
// Each concrete Bridge attaches to the ingest Source as an ordinary
// Consumer, runs its own runtime.Task pumping packets into the sibling
// Source it creates via the same source.Manager, and detaches
// cleanly on Close.
package bridge

import (
	"context"

	"redalf.de/corestream/pkg/runtime"
	"redalf.de/corestream/pkg/source"
	"redalf.de/corestream/pkg/streamurl"
)

// Bridge translates one ingest Source into a sibling protocol.
type Bridge interface {
	Name() string
	Attach(ctx context.Context, src *source.Source) error
	Close()
}

// siblingURL derives a protocol-qualified sibling stream identity by
// prefixing the app segment, so the bridged source lives at its own
// key in the manager rather than colliding with the ingest source.
func siblingURL(u streamurl.URL, protoPrefix string) streamurl.URL {
	return streamurl.URL{Vhost: u.Vhost, App: protoPrefix + "/" + u.App, Stream: u.Stream}
}

// base is the shared plumbing every concrete bridge embeds: it attaches
// to the ingest source as a consumer, spawns a pump Task copying
// packets into the sibling source, and tears both down on Close.
type base struct {
	name     string
	manager  *source.Manager
	worker   *runtime.Worker
	ingest   *source.Source
	sibling  *source.Source
	consumer *source.Consumer
	task     *runtime.Task
}

func newBase(name string, manager *source.Manager, worker *runtime.Worker, protoPrefix string) *base {
	return &base{name: name, manager: manager, worker: worker, ingest: nil, sibling: nil, consumer: nil, task: nil}
}

func (b *base) Name() string { return b.name }

// setup attaches as a consumer of src and creates the sibling source,
// without starting a pump task — callers that need per-packet
// translation spawn their own pump against the fields setup fills in.
func (b *base) setup(src *source.Source, protoPrefix string, pubID string) error {
	b.ingest = src
	b.sibling = b.manager.FetchOrCreate(siblingURL(src.URL, protoPrefix))
	if err := b.sibling.SetPublisher(pubID); err != nil {
		return err
	}
	b.consumer = src.Attach()
	return nil
}

// attach is setup followed by the default passthrough pump, for
// bridges that don't need to translate payloads.
func (b *base) attach(ctx context.Context, src *source.Source, protoPrefix string, pubID string) error {
	if err := b.setup(src, protoPrefix, pubID); err != nil {
		return err
	}
	b.task = b.worker.Spawn(ctx, b.pump)
	return nil
}

// pump is overridden by embedding bridges that need per-packet
// translation; the default copies packets through unchanged (used by
// bridges where the wire format doesn't need to change, only the
// container association does).
func (b *base) pump(ctx context.Context) {
	defer b.sibling.RemovePublisher()
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-b.consumer.Recv():
			if !ok {
				return
			}
			b.sibling.Publish(pkt, "", pkt.Sequence)
			pkt.Release()
		}
	}
}

func (b *base) Close() {
	if b.task != nil {
		b.task.Interrupt()
		b.task.Wait()
	}
	if b.ingest != nil && b.consumer != nil {
		b.ingest.Detach(b.consumer.ID)
	}
	if b.sibling != nil {
		b.sibling.RemovePublisher()
	}
}
