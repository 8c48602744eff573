package dispatch_test

import (
	"context"
	"net/http"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
	"github.com/angeloszaimis/dispatch-balancer/internal/dispatch"
	"github.com/angeloszaimis/dispatch-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/dispatch-balancer/internal/metrics"
	"github.com/angeloszaimis/dispatch-balancer/internal/strategy"
)

var _ = Describe("Direct", func() {
	var (
		pool      *backend.Pool
		forwarder *recordingForwarder
		d         *dispatch.Direct
	)

	BeforeEach(func() {
		pool = newPool(2)
		forwarder = &recordingForwarder{}
		lb := loadbalancer.NewLoadBalancer(pool, strategy.NewRoundRobinStrategy())
		d = dispatch.NewDirect(lb, forwarder, discardLogger(), nil)
	})

	It("should forward to the selected backend", func() {
		s := submit(d, nil)

		Eventually(s.env.Done()).Should(BeClosed())
		Expect(s.env.State()).To(Equal(dispatch.StateDispatched))
		Expect(s.recorder.Code).To(Equal(http.StatusOK))
		Expect(s.recorder.Body.String()).To(Equal("http://localhost:4001"))
		Expect(s.env.AdmissionSeq()).To(Equal(uint64(1)))
		Expect(s.env.DispatchSeq()).To(Equal(uint64(1)))
	})

	It("should rotate across healthy backends", func() {
		first := submit(d, nil)
		second := submit(d, nil)
		third := submit(d, nil)

		for _, s := range []submitted{first, second, third} {
			Eventually(s.env.Done()).Should(BeClosed())
		}

		Expect(first.recorder.Body.String()).To(Equal("http://localhost:4001"))
		Expect(second.recorder.Body.String()).To(Equal("http://localhost:4002"))
		Expect(third.recorder.Body.String()).To(Equal("http://localhost:4001"))
	})

	It("should never send to an unhealthy backend", func() {
		pool.All()[0].SetHealthy(false)

		for i := 0; i < 5; i++ {
			s := submit(d, nil)
			Eventually(s.env.Done()).Should(BeClosed())
			Expect(s.recorder.Body.String()).To(Equal("http://localhost:4002"))
		}
	})

	It("should reject with 502 when nothing is healthy", func() {
		for _, b := range pool.All() {
			b.SetHealthy(false)
		}

		s := submit(d, nil)

		Expect(s.env.Done()).To(BeClosed())
		Expect(s.env.State()).To(Equal(dispatch.StateRejected))
		Expect(s.recorder.Code).To(Equal(http.StatusBadGateway))
		Expect(s.recorder.Body.String()).To(ContainSubstring("No healthy backends available to handle the request."))
		Expect(forwarder.Count()).To(BeZero())
	})

	It("should complete the envelope when forwarding fails", func() {
		forwarder.outcome = dispatch.OutcomeTransportError

		s := submit(d, nil)

		Eventually(s.env.Done()).Should(BeClosed())
		Expect(s.env.State()).To(Equal(dispatch.StateDispatched))
		Expect(s.recorder.Code).To(Equal(http.StatusInternalServerError))
		Expect(forwarder.Count()).To(Equal(1))
	})

	It("should answer 500 when the forwarder panics", func() {
		lb := loadbalancer.NewLoadBalancer(pool, strategy.NewRoundRobinStrategy())
		d = dispatch.NewDirect(lb, dispatch.ForwarderFunc(func(*backend.Backend, *dispatch.Envelope) dispatch.Outcome {
			panic("boom")
		}), discardLogger(), nil)

		s := submit(d, nil)

		Eventually(s.env.Done()).Should(BeClosed())
		Expect(s.recorder.Code).To(Equal(http.StatusInternalServerError))
	})

	Context("when forwarding breaks off after the response has started", func() {
		newDirect := func(fwd dispatch.ForwarderFunc) *dispatch.Direct {
			lb := loadbalancer.NewLoadBalancer(pool, strategy.NewRoundRobinStrategy())
			return dispatch.NewDirect(lb, fwd, discardLogger(), nil)
		}

		It("should abort instead of writing a second response", func() {
			d = newDirect(func(_ *backend.Backend, env *dispatch.Envelope) dispatch.Outcome {
				env.ResponseWriter().WriteHeader(http.StatusOK)
				env.ResponseWriter().Write([]byte("partial"))
				panic(http.ErrAbortHandler)
			})

			s := submit(d, nil)

			Eventually(s.env.Done()).Should(BeClosed())
			Expect(s.env.Aborted()).To(BeTrue())
			Expect(s.recorder.Code).To(Equal(http.StatusOK))
			Expect(s.recorder.Body.String()).To(Equal("partial"))
		})

		It("should abort on any panic once bytes were written", func() {
			d = newDirect(func(_ *backend.Backend, env *dispatch.Envelope) dispatch.Outcome {
				env.ResponseWriter().Write([]byte("partial"))
				panic("boom")
			})

			s := submit(d, nil)

			Eventually(s.env.Done()).Should(BeClosed())
			Expect(s.env.Aborted()).To(BeTrue())
			Expect(s.recorder.Body.String()).To(Equal("partial"))
		})

		It("should not abort a response that failed before it started", func() {
			d = newDirect(func(*backend.Backend, *dispatch.Envelope) dispatch.Outcome {
				panic("boom")
			})

			s := submit(d, nil)

			Eventually(s.env.Done()).Should(BeClosed())
			Expect(s.env.Aborted()).To(BeFalse())
			Expect(s.recorder.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	It("should handle concurrent submissions exactly once each", func() {
		var wg sync.WaitGroup
		results := make(chan submitted, 50)

		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				results <- submit(d, nil)
			}()
		}
		wg.Wait()
		close(results)

		for s := range results {
			Eventually(s.env.Done()).Should(BeClosed())
			Expect(s.recorder.Code).To(Equal(http.StatusOK))
		}
		Expect(forwarder.Count()).To(Equal(50))
	})

	It("should publish selections and rejections", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		collector := metrics.NewCollector(64, discardLogger())
		collector.Start(ctx)

		lb := loadbalancer.NewLoadBalancer(pool, strategy.NewRoundRobinStrategy())
		d = dispatch.NewDirect(lb, forwarder, discardLogger(), collector)

		Eventually(submit(d, nil).env.Done()).Should(BeClosed())
		for _, b := range pool.All() {
			b.SetHealthy(false)
		}
		submit(d, nil)

		Eventually(func() int64 {
			return collector.Snapshot(strategy.NameRoundRobin).Rejected
		}).Should(Equal(int64(1)))
		Eventually(func() int64 {
			return collector.Snapshot(strategy.NameRoundRobin).Backends["http://localhost:4001"].Selections
		}).Should(Equal(int64(1)))
	})
})
