package redis

// Key layout. Every key carries the store prefix (default "ojs-lease:").
//
//	{p}job:{id}          JSON core.Job, version included
//	{p}topic:{topic}     sorted set of job ids scored by due time (ms)
//	{p}leases            sorted set of leased job ids scored by lease expiry (ms)
//	{p}dead:{id}         JSON core.DeadLetterJob
//	{p}dead              sorted set of dead letter ids scored by failure time (ms)
//	{p}dead_topic:{t}    per-topic variant of {p}dead
//	{p}detail:{id}       error detail text
//	{p}version           version counter

const defaultKeyPrefix = "ojs-lease:"

func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

func (s *Store) topicKey(topic string) string { return s.prefix + "topic:" + topic }

func (s *Store) leasesKey() string { return s.prefix + "leases" }

func (s *Store) deadKey(id string) string { return s.prefix + "dead:" + id }

func (s *Store) deadIndexKey() string { return s.prefix + "dead" }

func (s *Store) deadTopicKey(topic string) string { return s.prefix + "dead_topic:" + topic }

func (s *Store) detailKey(id string) string { return s.prefix + "detail:" + id }

func (s *Store) versionKey() string { return s.prefix + "version" }
