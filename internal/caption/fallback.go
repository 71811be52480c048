package caption

// defaultPool tops up an audience profile's fallback hashtags when the
// profile doesn't carry enough of its own. Skewed towards dating content
// because that is what the first deployments publish.
var defaultPool = []string{
	"#dating", "#love", "#single", "#relationship", "#datenight", "#romance", "#flirt",
	"#crush", "#match", "#attraction", "#chemistry", "#lovequotes", "#heart",
	"#singlelife", "#lookingforlove", "#datinglife", "#romanticvibes", "#connection",
	"#soulmate", "#meetme", "#dateready", "#lovewins", "#relationshipgoals", "#datingtips",
	"#singles", "#meetup", "#loveisintheair", "#perfectmatch", "#datingapp", "#loveislove",
	"#romanticmood", "#datingadvice", "#lovethoughts", "#relationshipstatus", "#datingfun",
	"#lovelife", "#romanticdate", "#datingworld", "#lovematch", "#relationshipvibes",
}

// fallbackHashtags selects count hashtags from the profile's fallback
// pool, topping up from the built-in pool, skipping recently used tags.
// If avoidance leaves too few, recently used tags are reused rather than
// returning a short caption.
func fallbackHashtags(pool, avoid []string, count int) []string {
	avoided := make(map[string]struct{}, len(avoid))
	for _, tag := range avoid {
		avoided[tag] = struct{}{}
	}

	candidates := normalizeHashtags(append(append([]string{}, pool...), defaultPool...))

	selected := make([]string, 0, count)
	for _, tag := range candidates {
		if len(selected) == count {
			break
		}
		if _, skip := avoided[tag]; skip {
			continue
		}
		selected = append(selected, tag)
	}

	// Not enough fresh tags: reuse avoided ones to fill the caption.
	if len(selected) < count {
		for _, tag := range candidates {
			if len(selected) == count {
				break
			}
			if _, wasAvoided := avoided[tag]; wasAvoided {
				selected = append(selected, tag)
			}
		}
	}

	return selected
}
