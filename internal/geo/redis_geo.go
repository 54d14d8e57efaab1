package geo

import (
	"context"
	"fmt"

	"github.com/example/parking-prices/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisIndex implements Index using Redis GEO commands.
type RedisIndex struct {
	client redis.Cmdable
	key    string
}

func NewRedisIndex(client redis.Cmdable, key string) *RedisIndex {
	return &RedisIndex{client: client, key: key}
}

func (r *RedisIndex) Add(ctx context.Context, id string, c models.Coord) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: c.Lon, Latitude: c.Lat, Name: id}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisIndex) Within(ctx context.Context, c models.Coord, radius float64) ([]Hit, error) {
	res, err := r.client.GeoRadius(ctx, r.key, c.Lon, c.Lat, &redis.GeoRadiusQuery{Radius: radius, Unit: "m", WithCoord: true, WithDist: true, Sort: "ASC"}).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius %s: %w", r.key, err)
	}
	out := make([]Hit, 0, len(res))
	for _, g := range res {
		out = append(out, Hit{
			ID:       g.Name,
			Loc:      models.Coord{Lat: g.Latitude, Lon: g.Longitude},
			Distance: g.Dist,
		})
	}
	return out, nil
}
