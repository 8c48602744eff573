package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
	"github.com/angeloszaimis/dispatch-balancer/internal/strategy"
)

var _ = Describe("WeightedRoundRobinStrategy", func() {
	var (
		strat    strategy.Strategy
		pool     *backend.Pool
		backends []*backend.Backend
	)

	BeforeEach(func() {
		strat = strategy.NewWeightedRoundRobinStrategy()
	})

	It("should create strategy", func() {
		Expect(strat).NotTo(BeNil())
		Expect(strat.Name()).To(Equal(strategy.NameWeightedRoundRobin))
	})

	Context("with weights 2 and 1", func() {
		BeforeEach(func() {
			pool = newPool(2, 1)
			backends = pool.All()
		})

		It("should select A, B, A over one window", func() {
			Expect(strat.SelectBackend(backends, nil)).To(BeIdenticalTo(backends[0]))
			Expect(strat.SelectBackend(backends, nil)).To(BeIdenticalTo(backends[1]))
			Expect(strat.SelectBackend(backends, nil)).To(BeIdenticalTo(backends[0]))
		})

		It("should restore the accumulators after a full window", func() {
			before := []int{backends[0].CurrentWeight(), backends[1].CurrentWeight()}

			for i := 0; i < 3; i++ {
				strat.SelectBackend(backends, nil)
			}

			Expect(backends[0].CurrentWeight()).To(Equal(before[0]))
			Expect(backends[1].CurrentWeight()).To(Equal(before[1]))
		})

		It("should follow the accumulator arithmetic", func() {
			strat.SelectBackend(backends, nil)
			Expect(backends[0].CurrentWeight()).To(Equal(-1))
			Expect(backends[1].CurrentWeight()).To(Equal(1))

			strat.SelectBackend(backends, nil)
			Expect(backends[0].CurrentWeight()).To(Equal(1))
			Expect(backends[1].CurrentWeight()).To(Equal(-1))
		})
	})

	Context("with equal weights", func() {
		BeforeEach(func() {
			pool = newPool(1, 1, 1)
			backends = pool.All()
		})

		It("should break ties by pool order", func() {
			Expect(strat.SelectBackend(backends, nil)).To(BeIdenticalTo(backends[0]))
			Expect(strat.SelectBackend(backends, nil)).To(BeIdenticalTo(backends[1]))
			Expect(strat.SelectBackend(backends, nil)).To(BeIdenticalTo(backends[2]))
			Expect(strat.SelectBackend(backends, nil)).To(BeIdenticalTo(backends[0]))
		})

		It("should distribute requests evenly", func() {
			counts := make(map[*backend.Backend]int)
			for i := 0; i < 300; i++ {
				b := strat.SelectBackend(backends, nil)
				Expect(b).NotTo(BeNil())
				counts[b]++
			}

			Expect(counts).To(HaveLen(3))
			for _, count := range counts {
				Expect(count).To(Equal(100))
			}
		})
	})

	Context("with different weights", func() {
		BeforeEach(func() {
			pool = newPool(5, 3, 1)
			backends = pool.All()
		})

		It("should distribute requests proportionally to weights", func() {
			counts := make(map[*backend.Backend]int)
			for i := 0; i < 900; i++ {
				counts[strat.SelectBackend(backends, nil)]++
			}

			Expect(counts[backends[0]]).To(Equal(500))
			Expect(counts[backends[1]]).To(Equal(300))
			Expect(counts[backends[2]]).To(Equal(100))
		})
	})

	Context("smooth weighted distribution", func() {
		It("should spread the heavy backend instead of clustering it", func() {
			pool = newPool(5, 1, 1)
			backends = pool.All()

			selections := make([]*backend.Backend, 7)
			for i := range selections {
				selections[i] = strat.SelectBackend(backends, nil)
			}

			// nginx reference sequence for {5, 1, 1}: a a b a c a a
			Expect(selections).To(Equal([]*backend.Backend{
				backends[0], backends[0], backends[1], backends[0],
				backends[2], backends[0], backends[0],
			}))
		})
	})

	Context("with an unhealthy backend", func() {
		BeforeEach(func() {
			pool = newPool(2, 1)
			backends = pool.All()
		})

		It("should freeze its accumulator while unhealthy", func() {
			strat.SelectBackend(pool.SnapshotHealthy(), nil)
			frozen := backends[1].CurrentWeight()

			backends[1].SetHealthy(false)
			for i := 0; i < 5; i++ {
				Expect(strat.SelectBackend(pool.SnapshotHealthy(), nil)).To(BeIdenticalTo(backends[0]))
			}
			Expect(backends[1].CurrentWeight()).To(Equal(frozen))

			backends[1].SetHealthy(true)
			strat.SelectBackend(pool.SnapshotHealthy(), nil)
			Expect(backends[1].CurrentWeight()).NotTo(Equal(frozen))
		})
	})

	Context("edge cases", func() {
		It("should return nil for empty backends", func() {
			Expect(strat.SelectBackend([]*backend.Backend{}, nil)).To(BeNil())
		})

		It("should return nil for nil backends", func() {
			Expect(strat.SelectBackend(nil, nil)).To(BeNil())
		})

		It("should handle single backend", func() {
			pool = newPool(10)
			backends = pool.All()

			for i := 0; i < 10; i++ {
				Expect(strat.SelectBackend(backends, nil)).To(Equal(backends[0]))
			}
			Expect(backends[0].CurrentWeight()).To(Equal(0))
		})
	})

	Context("concurrency safety", func() {
		It("should handle concurrent requests", func() {
			pool = newPool(1, 1)
			backends = pool.All()

			done := make(chan bool)
			results := make(chan *backend.Backend, 100)

			for g := 0; g < 10; g++ {
				go func() {
					for i := 0; i < 10; i++ {
						results <- strat.SelectBackend(backends, nil)
					}
					done <- true
				}()
			}

			for g := 0; g < 10; g++ {
				<-done
			}
			close(results)

			counts := make(map[*backend.Backend]int)
			for b := range results {
				Expect(backends).To(ContainElement(b))
				counts[b]++
			}

			Expect(counts[backends[0]]).To(Equal(50))
			Expect(counts[backends[1]]).To(Equal(50))
		})
	})
})
