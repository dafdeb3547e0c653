package store

import "github.com/redis/go-redis/v9"

// recordAnswerScript stores a player's answer for a round and keeps the live
// tally in step with the stored answer. A resubmission of the same option is a
// no-op; switching options moves one count from the old option to the new one.
//
// KEYS[1] answers hash, KEYS[2] tally hash
// ARGV[1] player email, ARGV[2] option
// Returns 1 when the tally changed, 0 otherwise.
var recordAnswerScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
if prev == ARGV[2] then
  return 0
end
if prev then
  redis.call('HINCRBY', KEYS[2], prev, -1)
end
redis.call('HINCRBY', KEYS[2], ARGV[2], 1)
return 1
`)

// joinIfOpenScript adds a player to the survivor set unless the tournament
// has already started or the player was eliminated earlier.
//
// KEYS[1] room hash, KEYS[2] survivors set, KEYS[3] eliminated set
// ARGV[1] player email
// Returns 1 joined, 0 already a survivor, -1 tournament started, -2 eliminated.
var joinIfOpenScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'started') == '1' then
  return -1
end
if redis.call('SISMEMBER', KEYS[3], ARGV[1]) == 1 then
  return -2
end
return redis.call('SADD', KEYS[2], ARGV[1])
`)
