package docstore

// Change subscriptions are in-process and fire synchronously after a write
// commits, including for this client's own writes. Listeners must tolerate
// redundant invocations; a notification only means "this document may have
// changed, re-read it if you care".

// Subscribe registers fn for every document change in the collection and
// returns an unsubscribe func.
func (s *Store) Subscribe(collection string, fn func(id string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	key := s.nextSub
	if s.collSubs[collection] == nil {
		s.collSubs[collection] = make(map[int]func(id string))
	}
	s.collSubs[collection][key] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.collSubs[collection], key)
	}
}

// SubscribeDoc registers fn for changes to one specific document.
func (s *Store) SubscribeDoc(collection, id string, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	key := s.nextSub
	docKey := collection + "/" + id
	if s.docSubs[docKey] == nil {
		s.docSubs[docKey] = make(map[int]func())
	}
	s.docSubs[docKey][key] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.docSubs[docKey], key)
	}
}

func (s *Store) notify(collection, id string) {
	s.mu.Lock()
	var collFns []func(id string)
	for _, fn := range s.collSubs[collection] {
		collFns = append(collFns, fn)
	}
	var docFns []func()
	for _, fn := range s.docSubs[collection+"/"+id] {
		docFns = append(docFns, fn)
	}
	s.mu.Unlock()

	for _, fn := range collFns {
		fn(id)
	}
	for _, fn := range docFns {
		fn()
	}
}
