package queue

import "github.com/redis/go-redis/v9"

// Key layout, relative to the configured prefix:
//
//	job:<id>   hash   (data, state, attempts, max_attempts, delay_until,
//	                   created_at, processed_at, finished_at, failed_reason, meta)
//	delayed    zset   id scored by delay_until (ms)
//	wait       list   ids ready to claim, FIFO
//	active     list   ids held by a worker
//	completed  zset   id scored by finished_at
//	failed     zset   id scored by finished_at
//
// ARGV[1] is always the prefix so scripts can build job keys for ids they
// discover.

// KEYS: job, delayed, wait, completed, failed
// ARGV: prefix, id, data, max_attempts, now, delay_until, meta
var addScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state and state ~= 'completed' and state ~= 'failed' then
  return 0
end
if state then
  redis.call('ZREM', KEYS[4], ARGV[2])
  redis.call('ZREM', KEYS[5], ARGV[2])
  redis.call('DEL', KEYS[1])
end
local delay_until = tonumber(ARGV[6])
local new_state = 'waiting'
if delay_until > tonumber(ARGV[5]) then
  new_state = 'delayed'
end
redis.call('HSET', KEYS[1],
  'data', ARGV[3], 'state', new_state, 'attempts', 0, 'max_attempts', ARGV[4],
  'created_at', ARGV[5], 'delay_until', delay_until, 'meta', ARGV[7])
if new_state == 'delayed' then
  redis.call('ZADD', KEYS[2], delay_until, ARGV[2])
else
  redis.call('RPUSH', KEYS[3], ARGV[2])
end
return 1
`)

// KEYS: delayed, wait
// ARGV: prefix, now, limit
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('HSET', ARGV[1] .. ':job:' .. id, 'state', 'waiting')
  redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)

// KEYS: wait, active
// ARGV: prefix, now
var claimScript = redis.NewScript(`
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then
    return false
  end
  local key = ARGV[1] .. ':job:' .. id
  if redis.call('HGET', key, 'state') == 'waiting' then
    redis.call('HSET', key, 'state', 'active', 'processed_at', ARGV[2])
    redis.call('HINCRBY', key, 'attempts', 1)
    redis.call('RPUSH', KEYS[2], id)
    return id
  end
end
`)

// finishScript moves an active job to a finished set and trims the set.
// KEYS: job, active, finished
// ARGV: prefix, id, state, now, reason, keep
var finishScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('LREM', KEYS[2], 0, ARGV[2])
redis.call('HSET', KEYS[1], 'state', ARGV[3], 'finished_at', ARGV[4])
if ARGV[5] ~= '' then
  redis.call('HSET', KEYS[1], 'failed_reason', ARGV[5])
end
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[2])
local keep = tonumber(ARGV[6])
if keep >= 0 then
  local stale = redis.call('ZRANGE', KEYS[3], 0, -(keep + 1))
  for _, id in ipairs(stale) do
    redis.call('DEL', ARGV[1] .. ':job:' .. id)
  end
  if #stale > 0 then
    redis.call('ZREM', KEYS[3], unpack(stale))
  end
end
return 1
`)

// stalledScript requeues or fails active jobs claimed before the cutoff.
// Entries whose hash is gone or no longer active are dropped from the list.
// The failed set is left for the next finish to trim.
// KEYS: active, wait, failed
// ARGV: prefix, cutoff, now, reason
// Returns {requeued, {failed ids}}.
var stalledScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
local requeued = 0
local failed = {}
for _, id in ipairs(ids) do
  local key = ARGV[1] .. ':job:' .. id
  local f = redis.call('HMGET', key, 'state', 'processed_at', 'attempts', 'max_attempts')
  if f[1] ~= 'active' then
    redis.call('LREM', KEYS[1], 0, id)
  elseif (tonumber(f[2]) or 0) < tonumber(ARGV[2]) then
    redis.call('LREM', KEYS[1], 0, id)
    if (tonumber(f[3]) or 0) < (tonumber(f[4]) or 1) then
      redis.call('HSET', key, 'state', 'waiting', 'failed_reason', ARGV[4])
      redis.call('RPUSH', KEYS[2], id)
      requeued = requeued + 1
    else
      redis.call('HSET', key, 'state', 'failed', 'finished_at', ARGV[3], 'failed_reason', ARGV[4])
      redis.call('ZADD', KEYS[3], ARGV[3], id)
      table.insert(failed, id)
    end
  end
end
return {requeued, failed}
`)

// KEYS: job, active, delayed
// ARGV: prefix, id, delay_until, reason
var retryScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('LREM', KEYS[2], 0, ARGV[2])
redis.call('HSET', KEYS[1], 'state', 'delayed', 'delay_until', ARGV[3], 'failed_reason', ARGV[4])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
return 1
`)

// KEYS: job, delayed, wait, completed, failed
// ARGV: prefix, id
// Returns 1 removed, 0 missing, -1 active.
var removeScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  return 0
end
if state == 'active' then
  return -1
end
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('LREM', KEYS[3], 0, ARGV[2])
redis.call('ZREM', KEYS[4], ARGV[2])
redis.call('ZREM', KEYS[5], ARGV[2])
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS: job
// ARGV: prefix, data
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[2])
return 1
`)
