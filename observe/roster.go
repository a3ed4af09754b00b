// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package observe

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// sampleRoster extracts the read-group -> sample mapping from a BAM/PAM
// header's @RG lines, plus the ordered, deduplicated sample list.  The SM tag
// is not surfaced by the sam.ReadGroup API, so the header text is scanned
// directly.  When the header carries no read groups, every read maps to
// fallback and the roster is just [fallback].
func sampleRoster(header *sam.Header, fallback string) (map[string]string, []string, error) {
	text, err := header.MarshalText()
	if err != nil {
		return nil, nil, errors.Wrap(err, "observe: marshaling BAM header")
	}
	rgSample := make(map[string]string)
	var roster []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "@RG") {
			continue
		}
		var id, sample string
		for _, field := range strings.Split(line, "\t")[1:] {
			if strings.HasPrefix(field, "ID:") {
				id = field[3:]
			} else if strings.HasPrefix(field, "SM:") {
				sample = field[3:]
			}
		}
		if id == "" {
			return nil, nil, errors.Errorf("observe: @RG line without ID: %q", line)
		}
		if sample == "" {
			sample = fallback
		}
		rgSample[id] = sample
		if !seen[sample] {
			seen[sample] = true
			roster = append(roster, sample)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "observe: scanning BAM header")
	}
	if len(roster) == 0 {
		roster = []string{fallback}
	}
	return rgSample, roster, nil
}
