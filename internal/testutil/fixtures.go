// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/HerbHall/homewatch/pkg/models"
)

// SnapshotTime is the capture time NewSnapshot uses unless overridden.
var SnapshotTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type snapshotSpec struct {
	seq     uint64
	takenAt time.Time
	clients []models.Client
}

// SnapshotOption customizes NewSnapshot.
type SnapshotOption func(*snapshotSpec)

// NewSnapshot returns a snapshot with sequence 1 taken at SnapshotTime and
// no clients. Clients are added in option order, with the router's
// duplicate-name rule applied.
func NewSnapshot(opts ...SnapshotOption) models.Snapshot {
	s := snapshotSpec{seq: 1, takenAt: SnapshotTime}
	for _, opt := range opts {
		opt(&s)
	}
	return models.NewSnapshot(s.seq, s.takenAt, s.clients)
}

// WithSeq sets the snapshot sequence number.
func WithSeq(seq uint64) SnapshotOption {
	return func(s *snapshotSpec) { s.seq = seq }
}

// WithTakenAt sets the capture time.
func WithTakenAt(t time.Time) SnapshotOption {
	return func(s *snapshotSpec) { s.takenAt = t }
}

// WithActive adds active clients.
func WithActive(names ...string) SnapshotOption {
	return func(s *snapshotSpec) {
		for _, n := range names {
			s.clients = append(s.clients, models.Client{Name: n, Active: true})
		}
	}
}

// WithInactive adds inactive clients.
func WithInactive(names ...string) SnapshotOption {
	return func(s *snapshotSpec) {
		for _, n := range names {
			s.clients = append(s.clients, models.Client{Name: n})
		}
	}
}

// JPEG encodes a w x h image with one red pixel.
func JPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}
