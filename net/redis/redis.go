package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mediocregopher/radix/v3"
	"github.com/rs/zerolog/log"
)

// Config of the redis connection pool
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (cfg Config) Enabled() bool {
	return cfg.Host != ""
}

// Client is a thin wrapper over a radix connection pool
type Client struct {
	cfg  Config
	pool *radix.Pool
}

// releaseScript deletes the key only while it still holds the caller's token
var releaseScript = radix.NewEvalScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript renews the expiry only while the key still holds the caller's token
var extendScript = radix.NewEvalScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

func (c *Client) Connect() error {
	size := c.cfg.PoolSize
	if size <= 0 {
		size = 10
	}
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	connFunc := func(network, addr string) (radix.Conn, error) {
		return radix.Dial(network, addr,
			radix.DialTimeout(5*time.Second),
			radix.DialAuthPass(c.cfg.Password),
			radix.DialSelectDB(c.cfg.DB),
		)
	}
	pool, err := radix.NewPool("tcp", addr, size, radix.PoolConnFunc(connFunc))
	if err != nil {
		return err
	}
	c.pool = pool
	log.Info().Str("section", "redis").Str("addr", addr).Msg("Connected to redis")
	return nil
}

func (c *Client) Disconnect() error {
	if c.pool == nil {
		return nil
	}
	return c.pool.Close()
}

// Exec runs a single command storing the reply in rcv
func (c *Client) Exec(rcv interface{}, cmd string, args ...string) error {
	return c.pool.Do(radix.Cmd(rcv, cmd, args...))
}

// SetNX stores token under key for ttl if the key does not exist yet
func (c *Client) SetNX(key, token string, ttl time.Duration) (bool, error) {
	var reply string
	mn := radix.MaybeNil{Rcv: &reply}
	ms := strconv.FormatInt(ttl.Milliseconds(), 10)
	if err := c.pool.Do(radix.Cmd(&mn, "SET", key, token, "NX", "PX", ms)); err != nil {
		return false, err
	}
	return !mn.Nil && reply == "OK", nil
}

// CompareAndDelete removes key when it still stores token
func (c *Client) CompareAndDelete(key, token string) (bool, error) {
	var deleted int
	if err := c.pool.Do(releaseScript.Cmd(&deleted, key, token)); err != nil {
		return false, err
	}
	return deleted == 1, nil
}

// CompareAndExpire sets a new ttl on key when it still stores token
func (c *Client) CompareAndExpire(key, token string, ttl time.Duration) (bool, error) {
	var extended int
	ms := strconv.FormatInt(ttl.Milliseconds(), 10)
	if err := c.pool.Do(extendScript.Cmd(&extended, key, token, ms)); err != nil {
		return false, err
	}
	return extended == 1, nil
}
