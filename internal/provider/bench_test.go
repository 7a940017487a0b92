package provider

import (
	"fmt"
	"testing"

	"github.com/gitcentral/gitcentral/internal/ledger"
	"github.com/gitcentral/gitcentral/internal/state"
)

// BenchmarkThroughput measures how fast the owner drains a burst of
// commands, with shared workers against workers holding the repository
// mutex.
func BenchmarkThroughput(b *testing.B) {
	for _, exclusive := range []bool{false, true} {
		for _, workers := range []int{1, 4} {
			name := fmt.Sprintf("exclusive=%v/workers=%d", exclusive, workers)
			b.Run(name, func(b *testing.B) {
				reg := NewRegistry()
				reg.Register(KindUpdateStatus, Worker{Execute: statesFor(state.Modified), Exclusive: exclusive})
				root := b.TempDir()
				p, err := New(Options{
					Settings: Settings{RepoRoot: root, Remote: "origin", Branch: "main"},
					Enabled:  true,
					Registry: reg,
					Ledger:   ledger.New(root, "origin", "main", nil),
					Workers:  workers,
				})
				if err != nil {
					b.Fatal(err)
				}
				b.Cleanup(p.Close)

				const burst = 64
				files := make([][]string, burst)
				for i := range files {
					files[i] = []string{fmt.Sprintf("f%d.txt", i)}
				}

				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					for j := 0; j < burst; j++ {
						if _, err := p.Submit(Request{Kind: KindUpdateStatus, Files: files[j]}, nil); err != nil {
							b.Fatal(err)
						}
					}
					for p.Pending() > 0 {
						p.Tick()
					}
				}
			})
		}
	}
}
