package mock

import (
	"context"
	"sync"

	"trades-exec/internal/account"
	"trades-exec/internal/instrument"
)

// subscription 以无界队列缓冲事件，交易所侧推送永不阻塞，消费方按推送顺序读取。
type subscription struct {
	mu     sync.Mutex
	queue  []account.Event
	notify chan struct{}
	out    chan account.Event

	assets      map[instrument.AssetNameExchange]struct{}
	instruments map[instrument.NameExchange]struct{}
}

func newSubscription(assets []instrument.AssetNameExchange, instruments []instrument.NameExchange) *subscription {
	s := &subscription{
		notify: make(chan struct{}, 1),
		out:    make(chan account.Event),
	}
	if len(assets) > 0 {
		s.assets = make(map[instrument.AssetNameExchange]struct{}, len(assets))
		for _, a := range assets {
			s.assets[a] = struct{}{}
		}
	}
	if len(instruments) > 0 {
		s.instruments = make(map[instrument.NameExchange]struct{}, len(instruments))
		for _, name := range instruments {
			s.instruments[name] = struct{}{}
		}
	}
	return s
}

func (s *subscription) accepts(event account.Event) bool {
	switch kind := event.Kind.(type) {
	case account.BalanceUpdated:
		if s.assets == nil {
			return true
		}
		_, ok := s.assets[kind.Balance.Asset]
		return ok
	case account.ConnectionStatus:
		return true
	default:
		if s.instruments == nil {
			return true
		}
		_, ok := s.instruments[event.Instrument()]
		return ok
	}
}

func (s *subscription) push(event account.Event) {
	if !s.accepts(event) {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) run(ctx context.Context, onDone func()) {
	defer close(s.out)
	defer onDone()

	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, event := range batch {
			select {
			case s.out <- event:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		}
	}
}
