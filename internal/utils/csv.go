package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"
)

// ReadTicksFromCSV loads price ticks from a CSV file with a
// "timestamp,symbol,price" header row. Timestamps are RFC3339.
func ReadTicksFromCSV(filename string) ([]ports.Tick, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil { // header
		return nil, fmt.Errorf("reading header of %s: %w", filename, err)
	}

	var ticks []ports.Tick
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s line %d: %w", filename, line, err)
		}
		if len(record) < 3 {
			return nil, fmt.Errorf("%s line %d: expected timestamp,symbol,price", filename, line)
		}
		at, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad timestamp: %w", filename, line, err)
		}
		price, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad price: %w", filename, line, err)
		}
		ticks = append(ticks, ports.Tick{Symbol: record[1], Price: price, At: at})
	}
	return ticks, nil
}

// WriteTicksToCSV writes ticks in the format ReadTicksFromCSV expects.
func WriteTicksToCSV(ticks []ports.Tick, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{"timestamp", "symbol", "price"})
	for _, t := range ticks {
		writer.Write([]string{
			t.At.Format(time.RFC3339),
			t.Symbol,
			strconv.FormatFloat(t.Price, 'f', -1, 64),
		})
	}
	return writer.Error()
}

// ReadSignalsFromCSV loads signals from a CSV file with a
// "received_at,symbol,direction,strategy,tier,score,validity_minutes,confidence,timeframe"
// header row.
func ReadSignalsFromCSV(filename string) ([]*domain.Signal, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil { // header
		return nil, fmt.Errorf("reading header of %s: %w", filename, err)
	}

	var signals []*domain.Signal
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s line %d: %w", filename, line, err)
		}
		if len(record) < 9 {
			return nil, fmt.Errorf("%s line %d: expected 9 columns, got %d", filename, line, len(record))
		}
		receivedAt, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad timestamp: %w", filename, line, err)
		}
		score, err := strconv.ParseFloat(record[5], 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad score: %w", filename, line, err)
		}
		validity, err := strconv.Atoi(record[6])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad validity: %w", filename, line, err)
		}
		confidence, err := strconv.Atoi(record[7])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad confidence: %w", filename, line, err)
		}

		signals = append(signals, &domain.Signal{
			Symbol:    record[1],
			Direction: domain.Direction(record[2]),
			Strategy: &domain.StrategyRef{
				Name:            record[3],
				Tier:            domain.PriorityTier(record[4]),
				Score:           score,
				ValidityMinutes: validity,
			},
			Confidence: confidence,
			Timeframe:  record[8],
			ReceivedAt: receivedAt,
		})
	}
	return signals, nil
}
