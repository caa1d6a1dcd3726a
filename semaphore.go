package producer

// semaphore bounds the number of concurrent PutRecords calls. A slot is taken
// by sending to the channel and given back by receiving from it.
type semaphore chan struct{}

// release a slot
func (s semaphore) release() {
	<-s
}

// wait takes count slots, blocking until they are all released by their holders
func (s semaphore) wait(count int) {
	for i := 0; i < count; i++ {
		s <- struct{}{}
	}
}

// open gives back count slots taken by wait
func (s semaphore) open(count int) {
	for i := 0; i < count; i++ {
		<-s
	}
}
