package app

import (
	"context"
	"testing"
)

func BenchmarkServiceSimulateCached(b *testing.B) {
	svc := realService()
	in := SimulateInput{Source: chainDOT, Options: RunOptions{Instant: true}}

	if _, err := svc.Simulate(context.Background(), in); err != nil {
		b.Fatalf("warmup simulate failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := svc.Simulate(context.Background(), in); err != nil {
			b.Fatalf("simulate failed: %v", err)
		}
	}
}

func BenchmarkServiceSimulateCachedParallel(b *testing.B) {
	svc := realService()
	in := SimulateInput{Source: chainDOT, Options: RunOptions{Instant: true}}

	if _, err := svc.Simulate(context.Background(), in); err != nil {
		b.Fatalf("warmup simulate failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := svc.Simulate(context.Background(), in); err != nil {
				b.Fatalf("simulate failed: %v", err)
			}
		}
	})
}
